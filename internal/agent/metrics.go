package agent

// RunMetrics is the blob reported to the controller when a job completes.
type RunMetrics struct {
	CloneDurationMS int64          `json:"clone_duration_ms"`
	BuildDurationMS int64          `json:"build_duration_ms,omitempty"`
	Stages          []StageMetrics `json:"stages,omitempty"`
	TotalDurationMS int64          `json:"total_duration_ms"`
}

// StageMetrics records one pipeline stage's outcome.
type StageMetrics struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}
