package dto

import (
	"time"

	"opspulse.app/reporter/internal/model"
)

type TriggerRequest struct {
	RequestedBy string `json:"requested_by" binding:"required"`
}

type TriggerResponse struct {
	JobID    string `json:"job_id,omitempty"`
	Enqueued bool   `json:"enqueued"`
}

type JobResponse struct {
	ID            string                   `json:"id"`
	LastRunID     *int64                   `json:"last_run_id,omitempty"`
	LastStatus    *model.RunStatus         `json:"last_status,omitempty"`
	LastStartedAt *time.Time               `json:"last_started_at,omitempty"`
	LastFinished  *time.Time               `json:"last_finished_at,omitempty"`
	Outcomes      []model.WorkspaceOutcome `json:"outcomes,omitempty"`
}

type RunResponse struct {
	ID            int64                    `json:"id"`
	JobID         string                   `json:"job_id"`
	TemplateType  model.TemplateType       `json:"template_type"`
	Status        model.RunStatus          `json:"status"`
	Outcomes      []model.WorkspaceOutcome `json:"outcomes,omitempty"`
	PublishedKeys []string                 `json:"published_keys,omitempty"`
	Error         *string                  `json:"error,omitempty"`
	RangeStart    time.Time                `json:"range_start"`
	RangeEnd      time.Time                `json:"range_end"`
	StartedAt     time.Time                `json:"started_at"`
	FinishedAt    *time.Time               `json:"finished_at,omitempty"`
}

func RunFromModel(run model.ReportRun) RunResponse {
	return RunResponse{
		ID:            run.ID,
		JobID:         run.JobID,
		TemplateType:  run.TemplateType,
		Status:        run.Status,
		Outcomes:      run.Outcomes,
		PublishedKeys: run.PublishedKeys,
		Error:         run.Error,
		RangeStart:    run.RangeStart,
		RangeEnd:      run.RangeEnd,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}
