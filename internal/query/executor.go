package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"opspulse.app/reporter/common/logger"
	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/registry"
	"opspulse.app/reporter/internal/retry"
)

// ExecutorConfig bounds a single query execution.
type ExecutorConfig struct {
	Timeout time.Duration // per-attempt timeout
	Retry   retry.Policy
}

// Executor resolves the right strategy for a workspace and runs it under
// timeout and retry. Only transient query errors are retried; retry
// exhaustion is reported as a permanent query error wrapping the last one.
type Executor struct {
	workspaces *registry.WorkspaceRegistry
	strategies *Registry
	cfg        ExecutorConfig
}

func NewExecutor(workspaces *registry.WorkspaceRegistry, strategies *Registry, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	defaults := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = defaults.BaseDelay
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = defaults.MaxDelay
	}
	return &Executor{
		workspaces: workspaces,
		strategies: strategies,
		cfg:        cfg,
	}
}

// Run executes the query described by spec. The workspace must exist in the
// registry; unknown workspaces fail before any strategy is invoked.
func (e *Executor) Run(ctx context.Context, spec model.QuerySpec) (model.QueryResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:   "reporter.query.executor",
		WorkspaceID: logger.Ptr(spec.Workspace.ID),
	})

	workspace, err := e.workspaces.Lookup(spec.Workspace.ID)
	if err != nil {
		return model.QueryResult{}, err
	}
	spec.Workspace = workspace

	strategy, err := e.strategies.Get(workspace.Type)
	if err != nil {
		return model.QueryResult{}, err
	}

	var result model.QueryResult
	runErr := e.cfg.Retry.Do(ctx, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		start := time.Now()
		var execErr error
		result, execErr = strategy.Execute(attemptCtx, spec)

		if execErr != nil {
			// Attempt timeouts look like context errors; classify them
			// transient so the next attempt gets a fresh window.
			if attemptCtx.Err() != nil && ctx.Err() == nil {
				execErr = Transient(workspace.ID, fmt.Errorf("attempt timed out after %s: %w", e.cfg.Timeout, execErr))
			}
			slog.WarnContext(ctx, "query attempt failed",
				"attempt", attempt,
				"max_attempts", e.cfg.Retry.MaxAttempts,
				"elapsed", time.Since(start).String(),
				"error", execErr)
			return execErr
		}

		slog.InfoContext(ctx, "query attempt succeeded",
			"attempt", attempt,
			"rows", result.RowCount(),
			"elapsed", time.Since(start).String())
		return nil
	}, IsTransient)

	if runErr != nil {
		if IsTransient(runErr) {
			// Retries exhausted on a transient error: surface as permanent.
			runErr = Permanent(workspace.ID, fmt.Errorf("retries exhausted: %w", runErr))
		}
		return model.QueryResult{}, runErr
	}

	if len(result.Columns) == 0 {
		return model.QueryResult{}, Permanent(workspace.ID, fmt.Errorf("strategy produced a result with no columns"))
	}

	return result, nil
}
