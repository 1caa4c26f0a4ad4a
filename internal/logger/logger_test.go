package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithLogFields_Merges(t *testing.T) {
	ctx := WithLogFields(context.Background(), LogFields{CorrelationID: "corr-1", Platform: "whatsapp"})
	ctx = WithLogFields(ctx, LogFields{ConversationID: "conv-1", Platform: ""})

	fields := GetLogFields(ctx)
	require.Equal(t, "corr-1", fields.CorrelationID)
	require.Equal(t, "whatsapp", fields.Platform)
	require.Equal(t, "conv-1", fields.ConversationID)
}

func TestGetLogFields_Empty(t *testing.T) {
	require.Equal(t, LogFields{}, GetLogFields(context.Background()))
}

func TestTraceHandler_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := New("production", &buf)

	ctx := WithLogFields(context.Background(), LogFields{StudentID: "stu-1", Component: "helpdesk.test"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "stu-1", rec["student_id"])
	require.Equal(t, "helpdesk.test", rec["component"])
	require.NotContains(t, rec, "conversation_id")
}

func TestNew_DevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	New("development", &buf).Debug("dbg")
	require.Contains(t, buf.String(), "dbg")

	buf.Reset()
	New("production", &buf).Debug("dbg")
	require.Empty(t, buf.String())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 5))
	require.Equal(t, "ab...", Truncate("abcdef", 2))
}

func TestStartSpan_NoopProviderIsSafe(t *testing.T) {
	sc := StartSpan(context.Background(), "test.span")
	sc.Event("escalated", "conversation_id", "c1")
	sc.RecordError(context.Canceled)
	sc.End()
	require.NotNil(t, sc.Context())
}
