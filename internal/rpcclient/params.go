package rpcclient

import (
	"net"
	"strconv"
	"strings"
	"time"

	"bluelab/internal/common"
)

const (
	ModeSingle  = "single"
	ModeAll     = "all"
	ModeNightly = "nightly"

	defaultServerIP   = "localhost"
	defaultServerPort = "9001"
	defaultTimeout    = 4 * time.Hour
)

// Params is one client invocation, usually taken from the variables of a
// Jenkins job.
type Params struct {
	Mode           string
	ServerIP       string
	ServerPort     string
	BoxIP          string
	Project        string
	Branch         string
	Release        bool
	ReleaseVersion string
	KeyPath        string
	Timeout        time.Duration
}

// jenkinsVar reads name through getenv. Jenkins choice parameters can
// arrive with a trailing comma, which is dropped.
func jenkinsVar(getenv func(string) string, name string) string {
	return strings.TrimSuffix(strings.TrimSpace(getenv(name)), ",")
}

// ParamsFromEnv reads Mode, ServerIP, ServerPort, BoxIP, Project, Branch,
// Release, ReleaseVersion, KeyPath and Timeout (seconds).
func ParamsFromEnv(getenv func(string) string) (Params, error) {
	p := Params{
		Mode:           strings.ToLower(jenkinsVar(getenv, "Mode")),
		ServerIP:       jenkinsVar(getenv, "ServerIP"),
		ServerPort:     jenkinsVar(getenv, "ServerPort"),
		BoxIP:          jenkinsVar(getenv, "BoxIP"),
		Project:        jenkinsVar(getenv, "Project"),
		Branch:         jenkinsVar(getenv, "Branch"),
		Release:        strings.EqualFold(jenkinsVar(getenv, "Release"), "true"),
		ReleaseVersion: jenkinsVar(getenv, "ReleaseVersion"),
		KeyPath:        jenkinsVar(getenv, "KeyPath"),
		Timeout:        defaultTimeout,
	}
	if p.Mode == "" {
		p.Mode = ModeAll
	}
	if p.ServerIP == "" {
		p.ServerIP = defaultServerIP
	}
	if p.ServerPort == "" {
		p.ServerPort = defaultServerPort
	}
	if raw := jenkinsVar(getenv, "Timeout"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return p, common.Errorf(common.RequestInvalid, "Timeout %q: want a positive number of seconds", raw)
		}
		p.Timeout = time.Duration(secs) * time.Second
	}
	return p, p.Validate()
}

func (p Params) Validate() error {
	if p.Timeout <= 0 {
		return common.Errorf(common.RequestInvalid, "Timeout %s: want a positive duration", p.Timeout)
	}
	switch p.Mode {
	case ModeAll, ModeNightly:
		return nil
	case ModeSingle:
	default:
		return common.Errorf(common.RequestInvalid, "unknown Mode %q", p.Mode)
	}
	if p.BoxIP == "" || p.Project == "" {
		return common.Errorf(common.RequestInvalid, "Please type BoxIP/Project")
	}
	if p.Release && p.ReleaseVersion == "" {
		return common.Errorf(common.RequestInvalid, "Please type ReleaseVersion for RELEASE upgrade")
	}
	if !p.Release && p.Branch == "" {
		return common.Errorf(common.RequestInvalid, "Please type Branch for CURRENT upgrade")
	}
	return nil
}

func (p Params) Addr() string {
	return net.JoinHostPort(p.ServerIP, p.ServerPort)
}
