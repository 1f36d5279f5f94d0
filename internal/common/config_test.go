package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "UPGRADE": {
    "REMOTE_LOCATION": "/srv/staging",
    "WORK_DIR": "/work",
    "SERVER": "staging.lab:22",
    "USERNAME": "builder",
    "LAB_KEY_PATH": "/keys/lab",
    "BOXES_LIST": [
      {"IP": "10.0.0.5", "PROJECT": "demo-project", "BRANCH": "42", "KEY_PATH": "/keys/box"}
    ],
    "UPGRADE_BASE_DIR": "/var/www/upgrade",
    "UPGRADE_BASE_URL": "http://upgrade.lab/upgrade",
    "FROM_MAIL_ADDRESS": "lab@example.com",
    "TO_MAIL_ADDRESS": "team@example.com",
    "UPGRADE_WAIT_SECONDS": 5
  },
  "NIGHTLY_BUILD": [
    {"DEBUG_PROJECT": "demo-debug", "SECURE_PROJECT": "", "WORK_DIR": "/nightly", "BRANCH": "trunk",
     "GENERATE_USB_RECOVERY": true, "REMOVE_FILES_AFTER_DAYS": 14}
  ],
  "JIRA": {"SERVER_ADDRESS": "https://jira.example.com", "USER": "u", "PASSWORD": "p",
           "PROJECT_TAG": "DEMO", "CHANGELOG_TAG": "DEMO-1"}
}`

const sampleYAML = `
UPGRADE:
  WORK_DIR: /work
  BOXES_LIST:
    - IP: 10.0.0.7
      PROJECT: other
      BRANCH: "7"
RPC:
  LISTEN_ADDRESS: 127.0.0.1:9100
LOG:
  LEVEL: debug
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "conf.json", sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "/srv/staging", cfg.Upgrade.RemoteLocation)
	require.Len(t, cfg.Upgrade.BoxesList, 1)
	assert.Equal(t, Box{IP: "10.0.0.5", Project: "demo-project", Branch: "42", KeyPath: "/keys/box"}, cfg.Upgrade.BoxesList[0])
	assert.Equal(t, 5*time.Second, cfg.Upgrade.UpgradeWait())
	assert.Equal(t, 60*time.Second, cfg.Upgrade.ActivationWait())
	assert.Equal(t, "admin", cfg.Upgrade.DeviceUser)
	assert.Equal(t, ":9001", cfg.RPC.ListenAddress)

	require.Len(t, cfg.NightlyBuild, 1)
	assert.True(t, cfg.NightlyBuild[0].GenerateUSBRecovery)
	assert.Equal(t, 14, cfg.NightlyBuild[0].RemoveFilesAfterDays)
	assert.Equal(t, "DEMO", cfg.Jira.ProjectTag)

	assert.NoError(t, cfg.Upgrade.Validate())
	assert.NoError(t, cfg.NightlyBuild[0].Validate())
	assert.NoError(t, cfg.Jira.Validate())
}

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "conf.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "/work", cfg.Upgrade.WorkDir)
	require.Len(t, cfg.Upgrade.BoxesList, 1)
	assert.Equal(t, "7", cfg.Upgrade.BoxesList[0].Branch)
	assert.Equal(t, "127.0.0.1:9100", cfg.RPC.ListenAddress)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, NewErrNo(ConfigErr)))

	_, err = LoadConfig(writeConfig(t, "bad.json", "{"))
	assert.True(t, errors.Is(err, NewErrNo(ConfigErr)))
}

func TestValidateListsMissingKeys(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "conf.yaml", sampleYAML))
	require.NoError(t, err)

	err = cfg.Upgrade.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, NewErrNo(ConfigErr)))
	assert.Contains(t, err.Error(), "FROM_MAIL_ADDRESS, LAB_KEY_PATH, REMOTE_LOCATION")
	assert.NotContains(t, err.Error(), "WORK_DIR")

	err = NightlyBuildConfig{WorkDir: "/w", Branch: "b"}.Validate()
	assert.ErrorContains(t, err, "DEBUG_PROJECT")

	err = JiraConfig{}.Validate()
	assert.ErrorContains(t, err, "CHANGELOG_TAG")
}
