package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"opspulse.app/reporter/core/db"
	"opspulse.app/reporter/internal/model"
)

// ErrNotFound is returned when no run matches the lookup.
var ErrNotFound = errors.New("run not found")

// RunStore persists report run records.
type RunStore interface {
	Create(ctx context.Context, run model.ReportRun) error
	Finish(ctx context.Context, run model.ReportRun) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]model.ReportRun, error)
	GetLatestByJob(ctx context.Context, jobID string) (model.ReportRun, error)
}

type runStore struct {
	db *db.DB
}

func NewRunStore(database *db.DB) RunStore {
	return &runStore{db: database}
}

const runSchema = `
CREATE TABLE IF NOT EXISTS report_runs (
    id             BIGINT PRIMARY KEY,
    job_id         TEXT NOT NULL,
    template_type  TEXT NOT NULL,
    status         TEXT NOT NULL,
    outcomes       JSONB NOT NULL DEFAULT '[]'::jsonb,
    published_keys TEXT[] NOT NULL DEFAULT '{}',
    error          TEXT,
    unpublished_report BYTEA,
    range_start    TIMESTAMPTZ NOT NULL,
    range_end      TIMESTAMPTZ NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_report_runs_job_started
    ON report_runs (job_id, started_at DESC);
`

// EnsureSchema creates the run table if it does not exist yet.
func EnsureSchema(ctx context.Context, database *db.DB) error {
	if _, err := database.Pool().Exec(ctx, runSchema); err != nil {
		return fmt.Errorf("ensuring run schema: %w", err)
	}
	return nil
}

func (s *runStore) Create(ctx context.Context, run model.ReportRun) error {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("encoding outcomes: %w", err)
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO report_runs (id, job_id, template_type, status, outcomes, published_keys, error, unpublished_report, range_start, range_end, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.JobID, string(run.TemplateType), string(run.Status), outcomes,
		run.PublishedKeys, run.Error, run.UnpublishedReport, run.RangeStart, run.RangeEnd, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("inserting run %d: %w", run.ID, err)
	}
	return nil
}

func (s *runStore) Finish(ctx context.Context, run model.ReportRun) error {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("encoding outcomes: %w", err)
	}

	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE report_runs
		SET status = $2, outcomes = $3, published_keys = $4, error = $5, unpublished_report = $6, finished_at = $7
		WHERE id = $1`,
		run.ID, string(run.Status), outcomes, run.PublishedKeys, run.Error, run.UnpublishedReport, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("updating run %d: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *runStore) ListByJob(ctx context.Context, jobID string, limit int) ([]model.ReportRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, job_id, template_type, status, outcomes, published_keys, error, range_start, range_end, started_at, finished_at
		FROM report_runs
		WHERE job_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var runs []model.ReportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading runs for job %s: %w", jobID, err)
	}
	return runs, nil
}

func (s *runStore) GetLatestByJob(ctx context.Context, jobID string) (model.ReportRun, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, job_id, template_type, status, outcomes, published_keys, error, range_start, range_end, started_at, finished_at
		FROM report_runs
		WHERE job_id = $1
		ORDER BY started_at DESC
		LIMIT 1`,
		jobID)
	if err != nil {
		return model.ReportRun{}, fmt.Errorf("fetching latest run for job %s: %w", jobID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.ReportRun{}, fmt.Errorf("fetching latest run for job %s: %w", jobID, err)
		}
		return model.ReportRun{}, ErrNotFound
	}
	return scanRun(rows)
}

func scanRun(row pgx.Row) (model.ReportRun, error) {
	var (
		run          model.ReportRun
		templateType string
		status       string
		outcomes     []byte
	)

	err := row.Scan(&run.ID, &run.JobID, &templateType, &status, &outcomes,
		&run.PublishedKeys, &run.Error, &run.RangeStart, &run.RangeEnd, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReportRun{}, ErrNotFound
		}
		return model.ReportRun{}, fmt.Errorf("scanning run: %w", err)
	}

	run.TemplateType = model.TemplateType(templateType)
	run.Status = model.RunStatus(status)
	if err := json.Unmarshal(outcomes, &run.Outcomes); err != nil {
		return model.ReportRun{}, fmt.Errorf("decoding outcomes for run %d: %w", run.ID, err)
	}

	run.RangeStart = run.RangeStart.UTC()
	run.RangeEnd = run.RangeEnd.UTC()
	run.StartedAt = run.StartedAt.UTC()
	if run.FinishedAt != nil {
		t := run.FinishedAt.UTC()
		run.FinishedAt = &t
	}
	return run, nil
}
