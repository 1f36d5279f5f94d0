package silo

import (
	"context"
	"errors"
	"testing"

	"bluelab/internal/shell"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	commands []shell.Command
	failOn   string
}

func (r *recordingRunner) Run(ctx context.Context, cmd shell.Command) (string, error) {
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && len(cmd.Args) > 0 && cmd.Args[0] == r.failOn {
		return "abort: repository not found", &shell.CommandError{Command: cmd.String(), ExitCode: 255, Output: "abort: repository not found"}
	}
	return "", nil
}

func TestPull(t *testing.T) {
	r := &recordingRunner{}
	require.NoError(t, New(r).Pull(context.Background(), "/work/42", "42"))

	require.Len(t, r.commands, 1)
	assert.Equal(t, shell.Command{Dir: "/work/42", Name: "nosilo", Args: []string{"pull", "42", "-ym"}}, r.commands[0])
}

func TestTagRevertsFirst(t *testing.T) {
	r := &recordingRunner{}
	require.NoError(t, New(r).Tag(context.Background(), "/work/42", "42", "bluelab_abc123"))

	require.Len(t, r.commands, 2)
	assert.Equal(t, []string{"foreach", "hg revert --all && hg purge"}, r.commands[0].Args)
	assert.Equal(t, []string{"tag", "42", "--name=bluelab_abc123"}, r.commands[1].Args)
}

func TestTagStopsWhenRevertFails(t *testing.T) {
	r := &recordingRunner{failOn: "foreach"}
	err := New(r).Tag(context.Background(), "/work/42", "42", "bluelab_abc123")

	var cmdErr *shell.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Len(t, r.commands, 1)
}

func TestBuildEnv(t *testing.T) {
	r := &recordingRunner{}
	s := New(r)

	require.NoError(t, s.Build(context.Background(), "/work/42", "demo-project", BuildOptions{Debug: true, BuildID: "2024_03_01"}))
	require.NoError(t, s.Build(context.Background(), "/work/42", "demo-secure", BuildOptions{}))

	require.Len(t, r.commands, 2)
	assert.Equal(t, "pysilo", r.commands[0].Name)
	assert.Equal(t, []string{"--project", "demo-project"}, r.commands[0].Args)
	assert.Equal(t, []string{"SRM_BUILD_ID=2024_03_01", "SvDebug=yes", "SvDebugBuild=yes", "SvKeepStack=yes"}, r.commands[0].Env)
	assert.Empty(t, r.commands[1].Env)
}

func TestOutputDir(t *testing.T) {
	assert.Equal(t, "/work/42/sbuild-demo-project", OutputDir("/work/42", "demo-project"))
}
