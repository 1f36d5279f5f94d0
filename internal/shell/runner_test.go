package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun_OnlyCommandSuccess(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	out, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hello world"}})

	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestRun_CommandFailedKeepsOutput(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	out, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo building; echo broken >&2; exit 3"}})

	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Output, "building")
	assert.Contains(t, cmdErr.Output, "broken")
	assert.Equal(t, out, cmdErr.Output)

	captured, ok := Output(fmt.Errorf("build: %w", err))
	assert.True(t, ok)
	assert.Equal(t, cmdErr.Output, captured)
}

func TestRun_MissingBinary(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestRun_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644))
	r := NewExecRunner(zap.NewNop())

	out, err := r.Run(context.Background(), Command{
		Dir:  dir,
		Env:  []string{"SRM_BUILD_ID=2024_01_02"},
		Name: "sh",
		Args: []string{"-c", "ls; echo $SRM_BUILD_ID"},
	})

	require.NoError(t, err)
	assert.Contains(t, out, "marker")
	assert.Contains(t, out, "2024_01_02")
}

func TestCommandString(t *testing.T) {
	cmd := Command{Env: []string{"SvDebug=yes"}, Name: "nosilo", Args: []string{"foreach", "hg revert --all && hg purge"}}
	assert.Equal(t, `SvDebug=yes nosilo foreach "hg revert --all && hg purge"`, cmd.String())
}
