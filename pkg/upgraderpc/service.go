package upgraderpc

// ServiceName is the name the upgrade service is registered under.
const ServiceName = "UpgradeService"

const (
	MethodUpgradeBox                     = ServiceName + ".UpgradeBox"
	MethodUpgradeAllBoxes                = ServiceName + ".UpgradeAllBoxes"
	MethodUpgradeBoxWithReleaseCandidate = ServiceName + ".UpgradeBoxWithReleaseCandidate"
	MethodBuildNightlySoftware           = ServiceName + ".BuildNightlySoftware"
)

// UpgradeService is served by the lab machine. Every call blocks until the
// pipeline it starts has finished.
type UpgradeService interface {
	UpgradeBox(req *UpgradeBoxRequest, resp *UpgradeResponse) error
	UpgradeAllBoxes(req *UpgradeAllBoxesRequest, resp *UpgradeResponse) error
	UpgradeBoxWithReleaseCandidate(req *ReleaseCandidateRequest, resp *UpgradeResponse) error
	BuildNightlySoftware(req *BuildNightlyRequest, resp *BuildNightlyResponse) error
}
