package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Fields flow through context enrichment so business context
// (job_id, run_id, workspace_id, etc.) shows up in every log statement without
// threading it through call sites.
type LogFields struct {
	JobID       *string // Scheduled job ID
	RunID       *int64  // Report run ID
	WorkspaceID *string // Log-analytics workspace ID
	QueryKey    *string // Query key being executed
	MessageID   *string // Redis stream message ID
	Component   string  // Component name (e.g., "reporter.pipeline.runner")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.RunID != nil {
		result.RunID = new.RunID
	}
	if new.WorkspaceID != nil {
		result.WorkspaceID = new.WorkspaceID
	}
	if new.QueryKey != nil {
		result.QueryKey = new.QueryKey
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long strings like queries.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
