package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"opspulse.app/reporter/common/id"
	"opspulse.app/reporter/common/logger"
	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/publish"
	"opspulse.app/reporter/internal/registry"
	"opspulse.app/reporter/internal/report"
	"opspulse.app/reporter/internal/store"
)

// ReportPublisher is the slice of publish.Publisher the runner needs.
type ReportPublisher interface {
	Publish(ctx context.Context, rpt model.Report) (publish.PublishResult, error)
}

// QueryExecutor is the slice of query.Executor the runner needs.
type QueryExecutor interface {
	Run(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error)
}

type Config struct {
	TemplateType model.TemplateType
	Formats      []model.Format
	// DaysRange is the size of the query window in days, ending at the most
	// recent midnight UTC.
	DaysRange int
	// MaxConcurrentQueries bounds how many workspace queries run at once.
	MaxConcurrentQueries int
	// FailureThreshold is the fraction of failed workspaces at or above
	// which the run is a failure. 1.0 means only an all-fail run fails.
	FailureThreshold float64
}

// Runner executes one report job end to end: query every workspace, render
// the configured formats, publish them, and persist the run record.
type Runner struct {
	cfg        Config
	workspaces *registry.WorkspaceRegistry
	executor   QueryExecutor
	factory    *report.Factory
	publisher  ReportPublisher
	runs       store.RunStore
	now        func() time.Time
}

func NewRunner(
	cfg Config,
	workspaces *registry.WorkspaceRegistry,
	executor QueryExecutor,
	factory *report.Factory,
	publisher ReportPublisher,
	runs store.RunStore,
) *Runner {
	if cfg.DaysRange <= 0 {
		cfg.DaysRange = 1
	}
	if cfg.MaxConcurrentQueries <= 0 {
		cfg.MaxConcurrentQueries = 3
	}
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = 1.0
	}
	return &Runner{
		cfg:        cfg,
		workspaces: workspaces,
		executor:   executor,
		factory:    factory,
		publisher:  publisher,
		runs:       runs,
		now:        time.Now,
	}
}

// Run executes the job and returns the terminal run record. The record is
// persisted even when the run fails; the returned error reports persistence
// problems, not report failures (those live in the record's status).
func (r *Runner) Run(ctx context.Context, jobID string) (model.ReportRun, error) {
	runID := id.New()
	end := r.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -r.cfg.DaysRange)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(jobID),
		RunID:     logger.Ptr(runID),
		Component: "reporter.pipeline",
	})

	run := model.ReportRun{
		ID:           runID,
		JobID:        jobID,
		TemplateType: r.cfg.TemplateType,
		Status:       model.RunStatusRunning,
		RangeStart:   start,
		RangeEnd:     end,
		StartedAt:    r.now().UTC(),
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return model.ReportRun{}, fmt.Errorf("creating run record: %w", err)
	}

	slog.InfoContext(ctx, "report run started",
		"template_type", string(r.cfg.TemplateType),
		"range_start", start,
		"range_end", end,
		"workspaces", len(r.workspaces.All()))

	results, outcomes := r.queryAll(ctx, start, end)
	run.Outcomes = outcomes

	run = r.renderAndPublish(ctx, run, results)

	finished := r.now().UTC()
	run.FinishedAt = &finished
	if err := r.runs.Finish(ctx, run); err != nil {
		return run, fmt.Errorf("finishing run record: %w", err)
	}

	slog.InfoContext(ctx, "report run finished",
		"status", string(run.Status),
		"published_keys", run.PublishedKeys,
		"elapsed", finished.Sub(run.StartedAt))
	return run, nil
}

// queryAll runs every registered workspace query with bounded concurrency
// and waits for all of them before returning. A failed workspace yields an
// outcome with an error and no result; it never aborts the others.
func (r *Runner) queryAll(ctx context.Context, start, end time.Time) ([]model.QueryResult, []model.WorkspaceOutcome) {
	workspaces := r.workspaces.All()

	type slot struct {
		result  model.QueryResult
		outcome model.WorkspaceOutcome
	}
	slots := make([]slot, len(workspaces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrentQueries)

	for i, ws := range workspaces {
		g.Go(func() error {
			wsCtx := logger.WithLogFields(gctx, logger.LogFields{
				WorkspaceID: logger.Ptr(ws.ID),
			})

			outcome := model.WorkspaceOutcome{WorkspaceID: ws.ID, Type: ws.Type}
			result, err := r.executor.Run(wsCtx, model.QuerySpec{
				Workspace: ws,
				Start:     start,
				End:       end,
			})
			if err != nil {
				slog.ErrorContext(wsCtx, "workspace query failed",
					"workspace_type", string(ws.Type),
					"error", err)
				outcome.Error = logger.Ptr(err.Error())
			} else {
				outcome.RowCount = result.RowCount()
				slots[i].result = result
			}
			slots[i].outcome = outcome
			// Errors are recorded per workspace, never returned, so one
			// failure cannot cancel the sibling queries.
			return nil
		})
	}
	_ = g.Wait()

	var results []model.QueryResult
	outcomes := make([]model.WorkspaceOutcome, 0, len(workspaces))
	for _, s := range slots {
		outcomes = append(outcomes, s.outcome)
		if !s.outcome.Failed() {
			results = append(results, s.result)
		}
	}
	return results, outcomes
}

func (r *Runner) renderAndPublish(ctx context.Context, run model.ReportRun, results []model.QueryResult) model.ReportRun {
	failed := 0
	for _, o := range run.Outcomes {
		if o.Failed() {
			failed++
		}
	}
	total := len(run.Outcomes)

	if total == 0 {
		run.Status = model.RunStatusFailure
		run.Error = logger.Ptr("no workspaces registered")
		return run
	}
	if failed == total {
		run.Status = model.RunStatusFailure
		run.Error = logger.Ptr("all workspace queries failed")
		return run
	}

	generatedAt := r.now().UTC()
	for _, format := range r.cfg.Formats {
		request := model.ReportRequest{
			TemplateType: r.cfg.TemplateType,
			Format:       format,
			JobID:        run.JobID,
			Results:      results,
			Start:        run.RangeStart,
			End:          run.RangeEnd,
			GeneratedAt:  generatedAt,
		}

		rendered, err := r.factory.Build(request)
		if err != nil {
			run.Status = model.RunStatusFailure
			run.Error = logger.Ptr(fmt.Sprintf("rendering %s report: %v", format, err))
			return run
		}

		published, err := r.publisher.Publish(ctx, rendered)
		if err != nil {
			run.Status = model.RunStatusFailure
			run.Error = logger.Ptr(fmt.Sprintf("publishing %s report: %v", format, err))
			run.UnpublishedReport = rendered.Bytes
			return run
		}
		run.PublishedKeys = append(run.PublishedKeys, published.Key)
	}
	sort.Strings(run.PublishedKeys)

	failedFraction := float64(failed) / float64(total)
	switch {
	case failed == 0:
		run.Status = model.RunStatusSuccess
	case failedFraction >= r.cfg.FailureThreshold:
		run.Status = model.RunStatusFailure
		run.Error = logger.Ptr(fmt.Sprintf("%d of %d workspace queries failed", failed, total))
	default:
		run.Status = model.RunStatusPartialFailure
	}
	return run
}
