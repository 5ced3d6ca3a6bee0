package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"opspulse.app/reporter/internal/http/dto"
	"opspulse.app/reporter/internal/queue"
	"opspulse.app/reporter/internal/store"
)

// ReportHandler serves the trigger and status surface. Triggers are
// asynchronous: the handler enqueues a message for the worker and answers
// 202 without waiting for the run.
type ReportHandler struct {
	producer queue.Producer
	runs     store.RunStore
	jobIDs   []string
}

func NewReportHandler(producer queue.Producer, runs store.RunStore, jobIDs []string) *ReportHandler {
	return &ReportHandler{
		producer: producer,
		runs:     runs,
		jobIDs:   jobIDs,
	}
}

// TriggerAll enqueues a run of every registered job.
func (h *ReportHandler) TriggerAll(c *gin.Context) {
	h.trigger(c, "")
}

// TriggerJob enqueues a run of one job.
func (h *ReportHandler) TriggerJob(c *gin.Context) {
	jobID := c.Param("id")
	if !slices.Contains(h.jobIDs, jobID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	h.trigger(c, jobID)
}

func (h *ReportHandler) trigger(c *gin.Context, jobID string) {
	ctx := c.Request.Context()

	var req dto.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid trigger request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := queue.TriggerMessage{
		JobID:       jobID,
		RequestedBy: req.RequestedBy,
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		traceID := spanCtx.TraceID().String()
		msg.TraceID = &traceID
	}

	if err := h.producer.Enqueue(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue trigger", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue trigger"})
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerResponse{JobID: jobID, Enqueued: true})
}

// ListJobs reports every known job with its latest run.
func (h *ReportHandler) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	jobs := make([]dto.JobResponse, 0, len(h.jobIDs))
	for _, jobID := range h.jobIDs {
		job := dto.JobResponse{ID: jobID}

		latest, err := h.runs.GetLatestByJob(ctx, jobID)
		switch {
		case err == nil:
			job.LastRunID = &latest.ID
			job.LastStatus = &latest.Status
			job.LastStartedAt = &latest.StartedAt
			job.LastFinished = latest.FinishedAt
			job.Outcomes = latest.Outcomes
		case errors.Is(err, store.ErrNotFound):
			// Never run yet.
		default:
			slog.ErrorContext(ctx, "failed to load latest run", "job_id", jobID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load jobs"})
			return
		}

		jobs = append(jobs, job)
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob reports one job with its latest run.
func (h *ReportHandler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")
	if !slices.Contains(h.jobIDs, jobID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	job := dto.JobResponse{ID: jobID}
	latest, err := h.runs.GetLatestByJob(ctx, jobID)
	switch {
	case err == nil:
		job.LastRunID = &latest.ID
		job.LastStatus = &latest.Status
		job.LastStartedAt = &latest.StartedAt
		job.LastFinished = latest.FinishedAt
		job.Outcomes = latest.Outcomes
	case errors.Is(err, store.ErrNotFound):
		// Never run yet.
	default:
		slog.ErrorContext(ctx, "failed to load latest run", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListRuns reports the recent runs of one job, newest first.
func (h *ReportHandler) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")
	if !slices.Contains(h.jobIDs, jobID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListByJob(ctx, jobID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	out := make([]dto.RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, dto.RunFromModel(run))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}
