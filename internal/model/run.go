package model

import "time"

type RunStatus string

const (
	RunStatusRunning        RunStatus = "running"
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartialFailure RunStatus = "partial_failure"
	RunStatusFailure        RunStatus = "failure"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusPartialFailure || s == RunStatusFailure
}

// WorkspaceOutcome records the per-workspace result of one run.
type WorkspaceOutcome struct {
	WorkspaceID string        `json:"workspace_id"`
	Type        WorkspaceType `json:"type"`
	RowCount    int           `json:"row_count"`
	Error       *string       `json:"error,omitempty"`
}

// Failed reports whether the workspace contributed no data to the report.
func (o WorkspaceOutcome) Failed() bool {
	return o.Error != nil
}

// ReportRun is the persisted record of one job execution.
type ReportRun struct {
	ID            int64              `json:"id"`
	JobID         string             `json:"job_id"`
	TemplateType  TemplateType       `json:"template_type"`
	Status        RunStatus          `json:"status"`
	Outcomes      []WorkspaceOutcome `json:"outcomes,omitempty"`
	PublishedKeys []string           `json:"published_keys,omitempty"`
	Error         *string            `json:"error,omitempty"`
	// UnpublishedReport holds the rendered bytes of a report whose upload
	// failed, so the output can still be inspected.
	UnpublishedReport []byte     `json:"-"`
	RangeStart        time.Time  `json:"range_start"`
	RangeEnd          time.Time  `json:"range_end"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}
