package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bluelab/internal/common"
	"bluelab/internal/pipeline"
	"bluelab/internal/shell"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeFlagsRequest(t *testing.T) {
	req, err := upgradeFlags{kind: "single", ip: "10.0.0.5", project: "stb", branch: "3800", key: "/k"}.request()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Request{Project: "stb", Branch: "3800", DeviceAddress: "10.0.0.5", KeyPath: "/k", Mode: pipeline.Single}, req)

	req, err = upgradeFlags{kind: "local", ip: "10.0.0.5", project: "stb", path: "/work/3800"}.request()
	require.NoError(t, err)
	assert.Equal(t, pipeline.LocalArtifact, req.Mode)
	assert.Equal(t, "/work/3800", req.SourcePath)

	req, err = upgradeFlags{kind: "rc", ip: "10.0.0.5", project: "stb", version: "1.2.3"}.request()
	require.NoError(t, err)
	assert.Equal(t, pipeline.ReleaseCandidate, req.Mode)
	assert.Equal(t, "stb-1.2.3", req.Project)
}

func TestUpgradeFlagsMissing(t *testing.T) {
	for _, f := range []upgradeFlags{
		{kind: "single", ip: "10.0.0.5", project: "stb"},
		{kind: "local", ip: "10.0.0.5", project: "stb"},
		{kind: "rc", ip: "10.0.0.5", project: "stb"},
		{kind: "everything"},
	} {
		_, err := f.request()
		assert.ErrorIs(t, err, common.NewErrNo(common.RequestInvalid), f.kind)
	}
}

func TestUpgradeUsageErrorDoesNotLoadConfig(t *testing.T) {
	root := NewUpgradeCommand()
	AddConfigFlag(root)
	root.SetArgs([]string{"--type", "single", "--ip", "10.0.0.5", "--config", "/does/not/exist.json"})
	root.SetOut(&bytes.Buffer{})
	var stderr bytes.Buffer

	code := Execute(root, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "--branch")
	assert.NotContains(t, stderr.String(), "exist.json")
}

func TestUpgradeFleetNeedsConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "conf.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"UPGRADE": {}}`), 0o644))
	root := NewUpgradeCommand()
	AddConfigFlag(root)
	root.SetArgs([]string{"--type", "all", "--config", cfgPath})
	var stderr bytes.Buffer

	assert.Equal(t, 1, Execute(root, &stderr))
	assert.Contains(t, stderr.String(), "REMOTE_LOCATION")
}

func TestExecutePrintsCommandOutput(t *testing.T) {
	root := &cobra.Command{
		Use: "x",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.WrapErrNo(common.BuildErr, &shell.CommandError{
				Command:  "pysilo build",
				ExitCode: 2,
				Output:   "make: *** [all] Error 2",
				Err:      errors.New("exit status 2"),
			})
		},
	}
	root.SetArgs(nil)
	var stderr bytes.Buffer

	assert.Equal(t, 1, Execute(root, &stderr))
	assert.Contains(t, stderr.String(), "build failed")
	assert.Contains(t, stderr.String(), "make: *** [all] Error 2")
}

func TestRegisterCommands(t *testing.T) {
	root := &cobra.Command{Use: "bluelab"}
	RegisterCommands(root)
	for _, name := range []string{"upgrader", "nightly", "rpcserver", "rpcclient", "history"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}
