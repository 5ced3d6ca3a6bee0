package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"opspulse.app/reporter/common/logger"
	"opspulse.app/reporter/internal/model"
)

// ErrAlreadyRunning is returned when a trigger arrives for a job whose
// previous run has not finished.
var ErrAlreadyRunning = errors.New("job is already running")

// ErrUnknownJob is returned when a trigger names a job that was never
// registered.
var ErrUnknownJob = errors.New("unknown job")

const heartbeatInterval = 15 * time.Second

// RunFunc executes one report run for a job.
type RunFunc func(ctx context.Context, jobID string) (model.ReportRun, error)

type Config struct {
	CronSpec  string // five-field cron expression with day-of-week names
	Enabled   bool   // when false, scheduled fires are skipped (manual triggers still work)
	DebugMode bool   // fire every job once immediately at startup
}

// JobStatus is a point-in-time snapshot of one registered job.
type JobStatus struct {
	ID         string           `json:"id"`
	Running    bool             `json:"running"`
	NextRun    *time.Time       `json:"next_run,omitempty"`
	LastRun    *time.Time       `json:"last_run,omitempty"`
	LastStatus *model.RunStatus `json:"last_status,omitempty"`
	LastRunID  *int64           `json:"last_run_id,omitempty"`
}

type job struct {
	id  string
	run RunFunc

	mu         sync.Mutex
	running    bool
	lastRun    *time.Time
	lastStatus *model.RunStatus
	lastRunID  *int64
}

// tryStart transitions idle -> running. Returns false when a run is
// already in flight.
func (j *job) tryStart() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *job) finish(run model.ReportRun) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	now := time.Now().UTC()
	j.lastRun = &now
	if run.ID != 0 {
		j.lastStatus = logger.Ptr(run.Status)
		j.lastRunID = logger.Ptr(run.ID)
	}
}

func (j *job) status(next *time.Time) JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{
		ID:         j.id,
		Running:    j.running,
		NextRun:    next,
		LastRun:    j.lastRun,
		LastStatus: j.lastStatus,
		LastRunID:  j.lastRunID,
	}
}

// Scheduler fires registered jobs on a shared cron schedule and serves
// manual triggers. A job never has two overlapping runs: a fire that lands
// while the previous run is still going is skipped.
type Scheduler struct {
	cfg      Config
	schedule cron.Schedule

	mu    sync.RWMutex
	jobs  map[string]*job
	order []string

	heartbeatMu sync.RWMutex
	lastTick    time.Time

	// runCtx bounds the lifetime of every job run. Stop cancels it so
	// in-flight runs wind down at their next suspension point.
	runCtx     context.Context
	cancelRuns context.CancelFunc

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(cfg Config) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.CronSpec)
	if err != nil {
		return nil, fmt.Errorf("parsing cron spec %q: %w", cfg.CronSpec, err)
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		schedule:   schedule,
		jobs:       make(map[string]*job),
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}, nil
}

// Register adds a job. All registration happens before Run is called.
func (s *Scheduler) Register(jobID string, run RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[jobID]; exists {
		return fmt.Errorf("job %s already registered", jobID)
	}
	s.jobs[jobID] = &job{id: jobID, run: run}
	s.order = append(s.order, jobID)
	return nil
}

// Run blocks until Stop is called or the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "reporter.scheduler"})
	slog.InfoContext(ctx, "scheduler started",
		"cron", s.cfg.CronSpec,
		"enabled", s.cfg.Enabled,
		"debug_mode", s.cfg.DebugMode,
		"jobs", len(s.order))

	if s.cfg.DebugMode && s.cfg.Enabled {
		slog.InfoContext(ctx, "debug mode: firing all jobs immediately")
		s.fireAll(ctx)
	}

	// The heartbeat ticker keeps Healthy answering truthfully while the
	// fire timer parks across the long gaps between scheduled runs.
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		s.beat()

		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.cancelRuns()
			s.wg.Wait()
			return ctx.Err()
		case <-s.stopCh:
			timer.Stop()
			slog.InfoContext(ctx, "scheduler stopping")
			s.wg.Wait()
			return nil
		case <-heartbeat.C:
			timer.Stop()
		case <-timer.C:
			if !s.cfg.Enabled {
				slog.InfoContext(ctx, "scheduled fire skipped, scheduler disabled")
				continue
			}
			slog.InfoContext(ctx, "scheduled fire", "fired_at", next.UTC())
			s.fireAll(ctx)
		}
	}
}

// Stop cancels in-flight job runs, signals Run to exit, and waits for both.
func (s *Scheduler) Stop() {
	s.cancelRuns()
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Scheduler) fireAll(ctx context.Context) {
	s.mu.RLock()
	order := append([]string(nil), s.order...)
	s.mu.RUnlock()

	for _, jobID := range order {
		if err := s.Trigger(ctx, jobID); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				slog.WarnContext(ctx, "scheduled run skipped, previous run still in progress", "job_id", jobID)
				continue
			}
			slog.ErrorContext(ctx, "failed to fire job", "job_id", jobID, "error", err)
		}
	}
}

// Trigger starts one run of the named job in the background. It returns
// ErrAlreadyRunning without starting anything when a run is in flight.
//
// The run outlives the trigger's own context (an HTTP disconnect must not
// kill a run midway) but is cancelled when the scheduler stops.
func (s *Scheduler) Trigger(ctx context.Context, jobID string) error {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	if !j.tryStart() {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, jobID)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		unlink := context.AfterFunc(s.runCtx, cancel)
		defer unlink()

		runCtx = logger.WithLogFields(runCtx, logger.LogFields{
			JobID:     logger.Ptr(jobID),
			Component: "reporter.scheduler",
		})

		run, err := s.runSafe(runCtx, j)
		j.finish(run)
		if err != nil {
			slog.ErrorContext(runCtx, "job run failed", "job_id", jobID, "error", err)
			return
		}
		slog.InfoContext(runCtx, "job run finished",
			"job_id", jobID,
			"run_id", run.ID,
			"status", string(run.Status))
	}()

	return nil
}

// TriggerAll fires every registered job, reporting per-job errors keyed by
// job ID. Jobs already running are skipped and reported.
func (s *Scheduler) TriggerAll(ctx context.Context) map[string]error {
	s.mu.RLock()
	order := append([]string(nil), s.order...)
	s.mu.RUnlock()

	results := make(map[string]error, len(order))
	for _, jobID := range order {
		results[jobID] = s.Trigger(ctx, jobID)
	}
	return results
}

func (s *Scheduler) runSafe(ctx context.Context, j *job) (run model.ReportRun, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job run", "job_id", j.id, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.run(ctx, j.id)
}

// Status reports all registered jobs in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next *time.Time
	if s.cfg.Enabled {
		n := s.schedule.Next(time.Now()).UTC()
		next = &n
	}

	statuses := make([]JobStatus, 0, len(s.order))
	for _, jobID := range s.order {
		statuses = append(statuses, s.jobs[jobID].status(next))
	}
	return statuses
}

// JobStatusByID reports one job, or ErrUnknownJob.
func (s *Scheduler) JobStatusByID(jobID string) (JobStatus, error) {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	var next *time.Time
	if s.cfg.Enabled {
		n := s.schedule.Next(time.Now()).UTC()
		next = &n
	}
	s.mu.RUnlock()
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return j.status(next), nil
}

func (s *Scheduler) beat() {
	s.heartbeatMu.Lock()
	s.lastTick = time.Now()
	s.heartbeatMu.Unlock()
}

// Healthy reports whether the scheduler loop has ticked within the window.
// The loop beats at least every heartbeatInterval.
func (s *Scheduler) Healthy(window time.Duration) bool {
	s.heartbeatMu.RLock()
	defer s.heartbeatMu.RUnlock()
	if s.lastTick.IsZero() {
		return false
	}
	return time.Since(s.lastTick) < window
}
