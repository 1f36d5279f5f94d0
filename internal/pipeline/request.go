package pipeline

import (
	"fmt"

	"bluelab/internal/common"
)

// Mode selects how a run obtains the software it installs.
type Mode string

const (
	Single           Mode = "single"            // build a branch checkout
	Fleet            Mode = "fleet"             // like Single, one box of UPGRADE.BOXES_LIST
	ReleaseCandidate Mode = "release-candidate" // install a published release, nothing is built
	LocalArtifact    Mode = "local-artifact"    // build an existing local tree, no fetch
)

func (m Mode) Valid() bool {
	switch m {
	case Single, Fleet, ReleaseCandidate, LocalArtifact:
		return true
	}
	return false
}

type Stage string

const (
	StagePrepare       Stage = "prepare"
	StageBuild         Stage = "build"
	StageTransfer      Stage = "transfer"
	StageDeviceUpgrade Stage = "device-upgrade"
	StageNotify        Stage = "notify"
	StageCleanup       Stage = "cleanup"
)

// Request describes one upgrade of one box. For ReleaseCandidate, Project
// is the release name, {project}-{version}.
type Request struct {
	Project       string
	Branch        string
	DeviceAddress string
	KeyPath       string // defaults to UPGRADE.LAB_KEY_PATH
	Mode          Mode
	SourcePath    string // LocalArtifact only
}

// Validate checks the fields Mode requires.
func (r Request) Validate() error {
	if !r.Mode.Valid() {
		return common.Errorf(common.RequestInvalid, "unknown mode %q", r.Mode)
	}
	var missing []string
	if r.Project == "" {
		missing = append(missing, "project")
	}
	if r.DeviceAddress == "" {
		missing = append(missing, "device address")
	}
	if (r.Mode == Single || r.Mode == Fleet) && r.Branch == "" {
		missing = append(missing, "branch")
	}
	if r.Mode == LocalArtifact && r.SourcePath == "" {
		missing = append(missing, "source path")
	}
	if len(missing) > 0 {
		return common.Errorf(common.RequestInvalid, "%s request: missing %v", r.Mode, missing)
	}
	return nil
}

// Result is the outcome of one run. Succeeded means the box reports the
// version that was built. A box reporting another version fails the run at
// StageDeviceUpgrade with a nil Err.
type Result struct {
	RunID           string
	Succeeded       bool
	VersionHash     string
	ReportedVersion string
	DeviceAddress   string
	Project         string
	FailureStage    Stage
	Err             error
}

// Message is a one-line summary for logs and RPC replies.
func (r Result) Message() string {
	switch {
	case r.Succeeded:
		return fmt.Sprintf("%s upgraded to %s", r.DeviceAddress, r.VersionHash)
	case r.Err != nil:
		return fmt.Sprintf("%s failed at %s: %v", r.DeviceAddress, r.FailureStage, r.Err)
	default:
		return fmt.Sprintf("%s reports version %q, expected %q", r.DeviceAddress, r.ReportedVersion, r.VersionHash)
	}
}
