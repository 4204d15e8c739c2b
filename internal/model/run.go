package model

import "time"

// RunStatus is the state of an enrichment run. The happy path moves
// loaded -> lei_resolved -> firmographics_resolved -> reported -> complete.
type RunStatus string

const (
	RunStatusLoaded                RunStatus = "loaded"
	RunStatusLEIResolved           RunStatus = "lei_resolved"
	RunStatusFirmographicsResolved RunStatus = "firmographics_resolved"
	RunStatusReported              RunStatus = "reported"
	RunStatusComplete              RunStatus = "complete"
	RunStatusFailed                RunStatus = "failed"
)

// StageStatus is the state of a single pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// Stage names.
const (
	StageLEI           = "lei"
	StageFirmographics = "firmographics"
)

// Run is one invocation of the pipeline over a dataset.
type Run struct {
	ID        string     `json:"id"`
	Input     string     `json:"input"`
	Rows      int        `json:"rows"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult is the persisted summary of a finished run.
type RunResult struct {
	Stages []StageResult       `json:"stages"`
	Report *CompletenessReport `json:"report,omitempty"`
}

// StageRecord is a stored stage row.
type StageRecord struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    StageStatus  `json:"status"`
	Result    *StageResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// StageResult summarizes one stage.
type StageResult struct {
	Name      string        `json:"name"`
	Status    StageStatus   `json:"status"`
	Duration  int64         `json:"duration_ms"`
	Requested int           `json:"requested"`
	Merged    int           `json:"merged"`
	Batches   int           `json:"batches"`
	Outcomes  TallySnapshot `json:"outcomes"`
	Primary   int64         `json:"primary_hits,omitempty"`
	Fallback  int64         `json:"fallback_hits,omitempty"`
	Engaged   bool          `json:"fallback_engaged,omitempty"`
	Circuit   string        `json:"circuit_state,omitempty"`
	Error     string        `json:"error,omitempty"`
}
