package common

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors conf.json. It is loaded once at process start and only
// read afterwards.
type Config struct {
	Upgrade      UpgradeConfig        `json:"UPGRADE" yaml:"UPGRADE"`
	NightlyBuild []NightlyBuildConfig `json:"NIGHTLY_BUILD" yaml:"NIGHTLY_BUILD"`
	Jira         JiraConfig           `json:"JIRA" yaml:"JIRA"`
	RPC          RPCConfig            `json:"RPC" yaml:"RPC"`
	History      HistoryConfig        `json:"HISTORY" yaml:"HISTORY"`
	Log          LogConfig            `json:"LOG" yaml:"LOG"`
}

// Box is one entry of UPGRADE.BOXES_LIST.
type Box struct {
	IP      string `json:"IP" yaml:"IP"`
	Project string `json:"PROJECT" yaml:"PROJECT"`
	Branch  string `json:"BRANCH" yaml:"BRANCH"`
	KeyPath string `json:"KEY_PATH" yaml:"KEY_PATH"`
}

type UpgradeConfig struct {
	RemoteLocation  string `json:"REMOTE_LOCATION" yaml:"REMOTE_LOCATION"`   // staging root on SERVER
	WorkDir         string `json:"WORK_DIR" yaml:"WORK_DIR"`                 // branch checkouts
	Server          string `json:"SERVER" yaml:"SERVER"`                     // staging host, host[:port]
	Username        string `json:"USERNAME" yaml:"USERNAME"`                 // staging host user
	LabKeyPath      string `json:"LAB_KEY_PATH" yaml:"LAB_KEY_PATH"`         // staging host key, default device key
	BoxesList       []Box  `json:"BOXES_LIST" yaml:"BOXES_LIST"`             // fleet
	UpgradeBaseDir  string `json:"UPGRADE_BASE_DIR" yaml:"UPGRADE_BASE_DIR"` // served by the upgrade server
	UpgradeBaseURL  string `json:"UPGRADE_BASE_URL" yaml:"UPGRADE_BASE_URL"`
	FromMailAddress string `json:"FROM_MAIL_ADDRESS" yaml:"FROM_MAIL_ADDRESS"`
	ToMailAddress   string `json:"TO_MAIL_ADDRESS" yaml:"TO_MAIL_ADDRESS"`

	DeviceUser                  string `json:"DEVICE_USER" yaml:"DEVICE_USER"`
	KnownHostsPath              string `json:"KNOWN_HOSTS_PATH" yaml:"KNOWN_HOSTS_PATH"`
	SMTPServer                  string `json:"SMTP_SERVER" yaml:"SMTP_SERVER"`
	ReleaseLocation             string `json:"RELEASE_LOCATION" yaml:"RELEASE_LOCATION"`
	UpgradeWaitSeconds          int    `json:"UPGRADE_WAIT_SECONDS" yaml:"UPGRADE_WAIT_SECONDS"`
	ActivationWaitSeconds       int    `json:"ACTIVATION_WAIT_SECONDS" yaml:"ACTIVATION_WAIT_SECONDS"`
	DeviceCommandTimeoutSeconds int    `json:"DEVICE_COMMAND_TIMEOUT_SECONDS" yaml:"DEVICE_COMMAND_TIMEOUT_SECONDS"`
}

type NightlyBuildConfig struct {
	DebugProject            string `json:"DEBUG_PROJECT" yaml:"DEBUG_PROJECT"`
	SecureProject           string `json:"SECURE_PROJECT" yaml:"SECURE_PROJECT"`
	GenerateUSBRecovery     bool   `json:"GENERATE_USB_RECOVERY" yaml:"GENERATE_USB_RECOVERY"`
	WorkDir                 string `json:"WORK_DIR" yaml:"WORK_DIR"`
	Branch                  string `json:"BRANCH" yaml:"BRANCH"`
	DebugLogoFilename       string `json:"DEBUG_LOGO_FILENAME" yaml:"DEBUG_LOGO_FILENAME"`
	SecureLogoFilename      string `json:"SECURE_LOGO_FILENAME" yaml:"SECURE_LOGO_FILENAME"`
	DebugBootimageFilename  string `json:"DEBUG_BOOTIMAGE_FILENAME" yaml:"DEBUG_BOOTIMAGE_FILENAME"`
	SecureBootimageFilename string `json:"SECURE_BOOTIMAGE_FILENAME" yaml:"SECURE_BOOTIMAGE_FILENAME"`
	RemoteLocation          string `json:"REMOTE_LOCATION" yaml:"REMOTE_LOCATION"`
	RemoveFilesAfterDays    int    `json:"REMOVE_FILES_AFTER_DAYS" yaml:"REMOVE_FILES_AFTER_DAYS"`
}

type JiraConfig struct {
	ServerAddress string `json:"SERVER_ADDRESS" yaml:"SERVER_ADDRESS"`
	User          string `json:"USER" yaml:"USER"`
	Password      string `json:"PASSWORD" yaml:"PASSWORD"`
	ProjectTag    string `json:"PROJECT_TAG" yaml:"PROJECT_TAG"`
	ChangelogTag  string `json:"CHANGELOG_TAG" yaml:"CHANGELOG_TAG"`
}

type RPCConfig struct {
	ListenAddress      string `json:"LISTEN_ADDRESS" yaml:"LISTEN_ADDRESS"`
	HTTPAddress        string `json:"HTTP_ADDRESS" yaml:"HTTP_ADDRESS"` // status API, disabled when empty
	NightlySchedule    string `json:"NIGHTLY_SCHEDULE" yaml:"NIGHTLY_SCHEDULE"`
	CallTimeoutSeconds int    `json:"CALL_TIMEOUT_SECONDS" yaml:"CALL_TIMEOUT_SECONDS"`
}

type HistoryConfig struct {
	Driver string `json:"DRIVER" yaml:"DRIVER"` // sqlite or mysql, disabled when empty
	DSN    string `json:"DSN" yaml:"DSN"`
}

type LogConfig struct {
	Path  string `json:"PATH" yaml:"PATH"`
	Level string `json:"LEVEL" yaml:"LEVEL"`
}

const (
	defaultDeviceUser       = "admin"
	defaultSMTPServer       = "gmail-smtp-in.l.google.com:25"
	defaultWaitSeconds      = 60
	defaultCommandTimeout   = 60
	defaultListenAddress    = ":9001"
	defaultCallTimeout      = 4 * 60 * 60
	defaultKnownHostsSuffix = ".ssh/known_hosts"
)

// LoadConfig reads a JSON config file, or YAML when the extension says so,
// and fills in defaults. Sections are validated by their consumers.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapErrNo(ConfigErr, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, Errorf(ConfigErr, "parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	u := &c.Upgrade
	if u.DeviceUser == "" {
		u.DeviceUser = defaultDeviceUser
	}
	if u.SMTPServer == "" {
		u.SMTPServer = defaultSMTPServer
	}
	if u.UpgradeWaitSeconds <= 0 {
		u.UpgradeWaitSeconds = defaultWaitSeconds
	}
	if u.ActivationWaitSeconds <= 0 {
		u.ActivationWaitSeconds = defaultWaitSeconds
	}
	if u.DeviceCommandTimeoutSeconds <= 0 {
		u.DeviceCommandTimeoutSeconds = defaultCommandTimeout
	}
	if u.KnownHostsPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			u.KnownHostsPath = filepath.Join(home, defaultKnownHostsSuffix)
		}
	}
	if c.RPC.ListenAddress == "" {
		c.RPC.ListenAddress = defaultListenAddress
	}
	if c.RPC.CallTimeoutSeconds <= 0 {
		c.RPC.CallTimeoutSeconds = defaultCallTimeout
	}
}

func (u UpgradeConfig) UpgradeWait() time.Duration {
	return time.Duration(u.UpgradeWaitSeconds) * time.Second
}

func (u UpgradeConfig) ActivationWait() time.Duration {
	return time.Duration(u.ActivationWaitSeconds) * time.Second
}

func (u UpgradeConfig) DeviceCommandTimeout() time.Duration {
	return time.Duration(u.DeviceCommandTimeoutSeconds) * time.Second
}

func (r RPCConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutSeconds) * time.Second
}

// Validate reports every missing UPGRADE key in a single ConfigErr.
func (u UpgradeConfig) Validate() error {
	return requireKeys("UPGRADE", map[string]string{
		"REMOTE_LOCATION":   u.RemoteLocation,
		"WORK_DIR":          u.WorkDir,
		"SERVER":            u.Server,
		"USERNAME":          u.Username,
		"LAB_KEY_PATH":      u.LabKeyPath,
		"UPGRADE_BASE_DIR":  u.UpgradeBaseDir,
		"UPGRADE_BASE_URL":  u.UpgradeBaseURL,
		"FROM_MAIL_ADDRESS": u.FromMailAddress,
		"TO_MAIL_ADDRESS":   u.ToMailAddress,
	})
}

func (n NightlyBuildConfig) Validate() error {
	if err := requireKeys("NIGHTLY_BUILD", map[string]string{
		"WORK_DIR": n.WorkDir,
		"BRANCH":   n.Branch,
	}); err != nil {
		return err
	}
	if n.DebugProject == "" && n.SecureProject == "" {
		return Errorf(ConfigErr, "NIGHTLY_BUILD: one of DEBUG_PROJECT, SECURE_PROJECT is required")
	}
	return nil
}

func (j JiraConfig) Validate() error {
	return requireKeys("JIRA", map[string]string{
		"SERVER_ADDRESS": j.ServerAddress,
		"USER":           j.User,
		"PASSWORD":       j.Password,
		"PROJECT_TAG":    j.ProjectTag,
		"CHANGELOG_TAG":  j.ChangelogTag,
	})
}

func requireKeys(section string, values map[string]string) error {
	var missing []string
	for key, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return Errorf(ConfigErr, "%s: missing %s", section, strings.Join(missing, ", "))
}
