package api

type RunBrief struct {
	RunID         string `json:"run_id"`
	Kind          string `json:"kind"`           // upgrade or nightly
	Mode          string `json:"mode,omitempty"` // upgrade runs only
	Project       string `json:"project"`
	Branch        string `json:"branch,omitempty"`
	DeviceAddress string `json:"device_address,omitempty"`
	Status        string `json:"status"` // running, success, failed, skipped
	FailureStage  string `json:"failure_stage,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time,omitempty"`
}

type StageDetail struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"` // captured command output of a failed stage
	Error  string `json:"error,omitempty"`
	Time   string `json:"time"`
}

type RunDetail struct {
	RunBrief
	VersionHash     string        `json:"version_hash,omitempty"`
	ReportedVersion string        `json:"reported_version,omitempty"`
	Error           string        `json:"error,omitempty"`
	Stages          []StageDetail `json:"stages"`
}

// Envelope wraps every status API reply. Code is 0 on success, otherwise an
// error number; Data is omitted on failure.
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}
