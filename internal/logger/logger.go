// Package logger configures the process-wide slog logger and enriches records
// with trace ids and request-scoped fields carried in the context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Setup installs the default logger. Production logs JSON, everything else
// logs text at debug level.
func Setup(env string) {
	slog.SetDefault(New(env, os.Stdout))
}

// New builds a logger for env writing to w.
func New(env string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if env != "production" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewTraceHandler(handler))
}

type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	fields := GetLogFields(ctx)
	if fields.CorrelationID != "" {
		r.AddAttrs(slog.String("correlation_id", fields.CorrelationID))
	}
	if fields.Platform != "" {
		r.AddAttrs(slog.String("platform", fields.Platform))
	}
	if fields.ExternalMessageID != "" {
		r.AddAttrs(slog.String("external_message_id", fields.ExternalMessageID))
	}
	if fields.StudentID != "" {
		r.AddAttrs(slog.String("student_id", fields.StudentID))
	}
	if fields.ConversationID != "" {
		r.AddAttrs(slog.String("conversation_id", fields.ConversationID))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}
