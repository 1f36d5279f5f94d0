package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"bluelab/internal/common"
	"bluelab/internal/nightly"
	"bluelab/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func upgradeConfig() common.UpgradeConfig {
	return common.UpgradeConfig{
		RemoteLocation:  "/srv/stb",
		WorkDir:         "/work",
		Server:          "lab-server",
		Username:        "lab",
		LabKeyPath:      "/keys/lab",
		UpgradeBaseDir:  "/var/www/upgrade",
		UpgradeBaseURL:  "http://lab/upgrade",
		FromMailAddress: "lab@example.com",
		ToMailAddress:   "team@example.com",
		SMTPServer:      "localhost:25",
	}
}

func TestNewWithHistory(t *testing.T) {
	cfg := &common.Config{History: common.HistoryConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "history.db")}}
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.History())
}

func TestNewWithoutHistory(t *testing.T) {
	a, err := New(&common.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a.History())
	assert.NoError(t, a.Close())
}

func TestOrchestratorValidatesUpgrade(t *testing.T) {
	a, err := New(&common.Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Orchestrator()
	assert.ErrorIs(t, err, common.NewErrNo(common.ConfigErr))

	a.cfg.Upgrade = upgradeConfig()
	o, err := a.Orchestrator()
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestUpgradeRejectsInvalidRequestBeforeAnyWork(t *testing.T) {
	a, err := New(&common.Config{Upgrade: upgradeConfig()}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Upgrade(context.Background(), pipeline.Request{Mode: pipeline.Single, Project: "stb"})
	assert.ErrorIs(t, err, common.NewErrNo(common.RequestInvalid))
}

func TestUpgradeFleetNeedsBoxes(t *testing.T) {
	a, err := New(&common.Config{Upgrade: upgradeConfig()}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.UpgradeFleet(context.Background())
	assert.ErrorIs(t, err, common.NewErrNo(common.ConfigErr))
}

func TestNightlyJobs(t *testing.T) {
	a, err := New(&common.Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.NightlyJobs()
	assert.ErrorIs(t, err, common.NewErrNo(common.ConfigErr))

	a.cfg.Jira = common.JiraConfig{ServerAddress: "http://jira", User: "u", Password: "p", ProjectTag: "STB", ChangelogTag: "STB-1"}
	a.cfg.NightlyBuild = []common.NightlyBuildConfig{{WorkDir: "/work", Branch: "3800"}}
	_, err = a.NightlyJobs()
	assert.ErrorIs(t, err, common.NewErrNo(common.ConfigErr), "entry without a project")

	a.cfg.NightlyBuild[0].DebugProject = "stb-debug"
	jobs, err := a.NightlyJobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestFirstError(t *testing.T) {
	boom := errors.New("boom")
	assert.NoError(t, FirstError([]nightly.Outcome{{Branch: "a"}}))
	assert.Equal(t, boom, FirstError([]nightly.Outcome{{Branch: "a"}, {Branch: "b", Err: boom}}))
}

func TestFleetError(t *testing.T) {
	assert.NoError(t, FleetError([]pipeline.Result{{Succeeded: true}}))
	err := FleetError([]pipeline.Result{
		{Succeeded: true, DeviceAddress: "10.0.0.5"},
		{DeviceAddress: "10.0.0.6", VersionHash: "abc", ReportedVersion: "def"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10.0.0.6")
}
