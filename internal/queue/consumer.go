package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"opspulse.app/reporter/common/logger"
)

type ConsumerConfig struct {
	Stream      string        // Redis stream name
	Group       string        // Redis consumer group name
	Consumer    string        // Redis consumer name
	BatchSize   int64         // Number of messages to read per batch
	Block       time.Duration // How long to block/poll for new messages
	MaxAttempts int           // Maximum attempts before a message is dropped
}

// Message is a parsed trigger read from the stream.
type Message struct {
	ID          string
	JobID       string
	RequestedBy string
	TraceID     string
	Attempt     int
	Raw         redis.XMessage
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting the group at "0" instead of "$" means triggers enqueued while
	// the worker was down are still picked up after a restart.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "reporter.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new messages not yet delivered to anyone.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				// Malformed triggers are acked and dropped, not retried.
				slog.ErrorContext(ctx, "failed to parse trigger message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read trigger messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "trigger acknowledged", "stream", c.cfg.Stream)
	return nil
}

// Requeue acks the message and re-adds it with a bumped attempt counter.
// Once MaxAttempts is reached the message is dropped instead.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	nextAttempt := msg.Attempt + 1

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed trigger for requeue: %w", err)
	}

	if c.cfg.MaxAttempts > 0 && nextAttempt > c.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "dropping trigger after max attempts",
			"job_id", msg.JobID,
			"attempts", msg.Attempt,
			"last_error", errMsg)
		return nil
	}

	values := map[string]any{
		"requested_by": msg.RequestedBy,
		"attempt":      nextAttempt,
	}
	if msg.JobID != "" {
		values["job_id"] = msg.JobID
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "trigger requeued for retry",
		"job_id", msg.JobID,
		"next_attempt", nextAttempt,
		"reason", errMsg)
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	jobID, err := parseOptionalString(msg.Values, "job_id")
	if err != nil {
		return Message{}, err
	}
	requestedBy, err := parseOptionalString(msg.Values, "requested_by")
	if err != nil {
		return Message{}, err
	}
	if requestedBy == "" {
		return Message{}, fmt.Errorf("missing requested_by")
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:          msg.ID,
		JobID:       jobID,
		RequestedBy: requestedBy,
		TraceID:     traceID,
		Attempt:     attempt,
		Raw:         msg,
	}, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}
