package logger

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"opspulse.app/reporter/core/config"
)

// Setup installs the process-wide slog default. Development gets readable
// text at debug level; production gets JSON, or the otelslog bridge when an
// OTLP endpoint is configured.
func Setup(cfg config.Config) {
	if cfg.IsProduction() && cfg.OTel.Enabled() {
		slog.SetDefault(slog.New(otelslog.NewHandler(
			cfg.OTel.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)))
		return
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var inner slog.Handler
	if cfg.IsProduction() {
		inner = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		inner = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(NewTraceHandler(inner)))
}

// TraceHandler enriches every record with the trace/span IDs and the run
// fields carried on the context, so call sites log only what is local to
// them.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	r.AddAttrs(contextAttrs(ctx)...)
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

func contextAttrs(ctx context.Context) []slog.Attr {
	fields := GetLogFields(ctx)
	attrs := make([]slog.Attr, 0, 6)
	if fields.JobID != nil {
		attrs = append(attrs, slog.String("job_id", *fields.JobID))
	}
	if fields.RunID != nil {
		attrs = append(attrs, slog.Int64("run_id", *fields.RunID))
	}
	if fields.WorkspaceID != nil {
		attrs = append(attrs, slog.String("workspace_id", *fields.WorkspaceID))
	}
	if fields.QueryKey != nil {
		attrs = append(attrs, slog.String("query_key", *fields.QueryKey))
	}
	if fields.MessageID != nil {
		attrs = append(attrs, slog.String("message_id", *fields.MessageID))
	}
	if fields.Component != "" {
		attrs = append(attrs, slog.String("component", fields.Component))
	}
	return attrs
}
