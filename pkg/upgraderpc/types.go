package upgraderpc

type UpgradeBoxRequest struct {
	BoxIP   string `json:"box_ip"`
	Project string `json:"project"`
	Branch  string `json:"branch"`
	KeyPath string `json:"key_path,omitempty"`
}

type ReleaseCandidateRequest struct {
	BoxIP   string `json:"box_ip"`
	Project string `json:"project"`
	Version string `json:"version"`
	KeyPath string `json:"key_path,omitempty"`
}

type UpgradeAllBoxesRequest struct {
}

type BuildNightlyRequest struct {
}

// UpgradeResult is one device's outcome. Error carries the failure message
// of a run that did not succeed.
type UpgradeResult struct {
	RunID           string `json:"run_id"`
	BoxIP           string `json:"box_ip"`
	Project         string `json:"project"`
	Succeeded       bool   `json:"succeeded"`
	VersionHash     string `json:"version_hash,omitempty"`
	ReportedVersion string `json:"reported_version,omitempty"`
	FailureStage    string `json:"failure_stage,omitempty"`
	Error           string `json:"error,omitempty"`
}

type UpgradeResponse struct {
	Results []UpgradeResult `json:"results"`
}

type NightlyResult struct {
	RunID      string   `json:"run_id"`
	Branch     string   `json:"branch"`
	Skipped    bool     `json:"skipped"`
	DateTag    string   `json:"date_tag,omitempty"`
	FixVersion string   `json:"fix_version,omitempty"`
	Issues     []string `json:"issues,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type BuildNightlyResponse struct {
	Results []NightlyResult `json:"results"`
}

// Succeeded reports whether every result in the response succeeded.
func (r *UpgradeResponse) Succeeded() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Succeeded {
			return false
		}
	}
	return true
}

func (r *BuildNightlyResponse) Succeeded() bool {
	for _, res := range r.Results {
		if res.Error != "" {
			return false
		}
	}
	return true
}
