package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// TriggerMessage asks the worker to run one report job. An empty JobID means
// "run every registered job".
type TriggerMessage struct {
	JobID       string
	RequestedBy string
	TraceID     *string
	Attempt     int
}

type Producer interface {
	Enqueue(ctx context.Context, msg TriggerMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg TriggerMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"requested_by": msg.RequestedBy,
		"attempt":      attempt,
	}
	if msg.JobID != "" {
		fields["job_id"] = msg.JobID
	}
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue trigger: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued report trigger", "job_id", msg.JobID, "requested_by", msg.RequestedBy, "attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
