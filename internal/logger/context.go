package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every record logged with a context carrying them.
type LogFields struct {
	CorrelationID     string
	Platform          string
	ExternalMessageID string
	StudentID         string
	ConversationID    string
	Component         string // e.g. "helpdesk.usecase.ingest"
}

// WithLogFields merges fields into the context; non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields stored in ctx, or the zero value.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.CorrelationID != "" {
		result.CorrelationID = next.CorrelationID
	}
	if next.Platform != "" {
		result.Platform = next.Platform
	}
	if next.ExternalMessageID != "" {
		result.ExternalMessageID = next.ExternalMessageID
	}
	if next.StudentID != "" {
		result.StudentID = next.StudentID
	}
	if next.ConversationID != "" {
		result.ConversationID = next.ConversationID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
