package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"opspulse.app/reporter/internal/model"
	"opspulse.app/reporter/internal/retry"
)

// ErrorClass mirrors the query error taxonomy: transient publish failures
// are retried, permanent ones surface immediately.
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)

// PublishError carries the destination key alongside classification so run
// records can point at the object that failed.
type PublishError struct {
	Class ErrorClass
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing %s (%s): %v", e.Key, e.Class, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func isTransient(err error) bool {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Class == ErrorClassTransient
	}
	return false
}

// PublishResult identifies the stored object.
type PublishResult struct {
	Key  string
	ETag string
}

// ObjectStore is the storage surface the publisher needs. Put must
// overwrite an existing object at the same key.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, contentType string) (etag string, err error)
}

// MinIOStore backs ObjectStore with an S3-compatible endpoint.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// MinIOConfig holds the connection settings for the report bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", classifyStoreError(key, err)
	}
	return info.ETag, nil
}

func classifyStoreError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == 429, resp.StatusCode == 0:
		// StatusCode 0 means we never got a response, usually a network
		// failure.
		return &PublishError{Class: ErrorClassTransient, Key: key, Err: err}
	default:
		return &PublishError{Class: ErrorClassPermanent, Key: key, Err: err}
	}
}

// Publisher uploads rendered reports. Publishing the same report twice is
// idempotent because the key is derived from the report content identity
// and the store overwrites on key collision.
type Publisher struct {
	store  ObjectStore
	policy retry.Policy
}

func NewPublisher(store ObjectStore, policy retry.Policy) *Publisher {
	return &Publisher{store: store, policy: policy}
}

// Publish uploads the report at its suggested key, retrying transient
// store failures.
func (p *Publisher) Publish(ctx context.Context, report model.Report) (PublishResult, error) {
	if report.SuggestedKey == "" {
		return PublishResult{}, &PublishError{Class: ErrorClassPermanent, Key: "", Err: errors.New("report has no storage key")}
	}
	if len(report.Bytes) == 0 {
		return PublishResult{}, &PublishError{Class: ErrorClassPermanent, Key: report.SuggestedKey, Err: errors.New("report has no content")}
	}

	start := time.Now()
	var etag string

	err := p.policy.Do(ctx, func(attempt int) error {
		var putErr error
		etag, putErr = p.store.Put(ctx, report.SuggestedKey, report.Bytes, report.ContentType)
		if putErr != nil {
			slog.WarnContext(ctx, "report upload attempt failed",
				slog.Int("attempt", attempt),
				slog.String("key", report.SuggestedKey),
				slog.String("error", putErr.Error()))
		}
		return putErr
	}, isTransient)
	if err != nil {
		var pe *PublishError
		if errors.As(err, &pe) {
			return PublishResult{}, err
		}
		return PublishResult{}, &PublishError{Class: ErrorClassPermanent, Key: report.SuggestedKey, Err: err}
	}

	slog.InfoContext(ctx, "report published",
		slog.String("key", report.SuggestedKey),
		slog.Int("size_bytes", len(report.Bytes)),
		slog.Duration("elapsed", time.Since(start)))

	return PublishResult{Key: report.SuggestedKey, ETag: etag}, nil
}
