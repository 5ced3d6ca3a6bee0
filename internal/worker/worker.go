package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"opspulse.app/reporter/common/logger"
	"opspulse.app/reporter/internal/queue"
	"opspulse.app/reporter/internal/scheduler"
)

// Triggerer is the slice of scheduler.Scheduler the worker needs.
type Triggerer interface {
	Trigger(ctx context.Context, jobID string) error
	TriggerAll(ctx context.Context) map[string]error
}

// Worker drains trigger messages from the queue and hands them to the
// scheduler. Rendering and publishing happen inside the scheduled runs, so
// the worker only decides ack versus requeue.
type Worker struct {
	consumer  *queue.RedisConsumer
	triggerer Triggerer

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer *queue.RedisConsumer, triggerer Triggerer) *Worker {
	return &Worker{
		consumer:  consumer,
		triggerer: triggerer,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "reporter.worker"})
	slog.InfoContext(ctx, "trigger worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "trigger worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.processMessage(ctx, msg)
	}
	return nil
}

func (w *Worker) processMessage(ctx context.Context, msg queue.Message) {
	msgCtx := logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(msg.ID),
	})
	span := logger.StartSpanFromTraceID(msgCtx, msg.TraceID, "worker.process_trigger")
	defer span.End()
	msgCtx = span.Context()

	slog.InfoContext(msgCtx, "processing trigger",
		"job_id", msg.JobID,
		"requested_by", msg.RequestedBy,
		"attempt", msg.Attempt)

	if msg.JobID == "" {
		for jobID, err := range w.triggerer.TriggerAll(msgCtx) {
			if err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
				slog.ErrorContext(msgCtx, "failed to trigger job", "job_id", jobID, "error", err)
			}
		}
		w.ack(msgCtx, msg)
		return
	}

	err := w.triggerer.Trigger(msgCtx, msg.JobID)
	switch {
	case err == nil:
		w.ack(msgCtx, msg)
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		// A run is already covering this trigger. Dropping the message keeps
		// triggers idempotent under bursts.
		slog.InfoContext(msgCtx, "trigger skipped, job already running", "job_id", msg.JobID)
		w.ack(msgCtx, msg)
	case errors.Is(err, scheduler.ErrUnknownJob):
		slog.ErrorContext(msgCtx, "trigger for unknown job dropped", "job_id", msg.JobID)
		w.ack(msgCtx, msg)
	default:
		span.RecordError(err)
		if requeueErr := w.consumer.Requeue(msgCtx, msg, err.Error()); requeueErr != nil {
			slog.ErrorContext(msgCtx, "failed to requeue trigger", "job_id", msg.JobID, "error", requeueErr)
		}
	}
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to ack trigger", "message_id", msg.ID, "error", err)
	}
}
