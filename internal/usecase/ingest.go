package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"student-helpdesk/internal/classifier"
	"student-helpdesk/internal/domain"
	"student-helpdesk/internal/logger"
	"student-helpdesk/internal/repository"
)

const defaultMaxContext = 10

type ConversationStore interface {
	UpsertStudent(ctx context.Context, name, identifier string, platform domain.Platform) (domain.Student, error)
	GetOrCreateActiveConversation(ctx context.Context, studentID string) (domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, sender domain.Sender, content string, topic domain.Topic) (domain.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	SetConversationStatus(ctx context.Context, conversationID string, status domain.ConversationStatus) error
}

type Responder interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Reply, error)
}

type Dispatcher interface {
	Send(ctx context.Context, platform domain.Platform, externalID, text string) error
}

type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type IngestResult struct {
	Outcome        Outcome
	StudentID      string
	ConversationID string
	Topic          domain.Topic
	Escalated      bool
	Dispatched     bool
}

// IngestService runs one inbound message through persistence, the AI
// responder, escalation and outbound dispatch.
type IngestService struct {
	store      ConversationStore
	responder  Responder
	dispatcher Dispatcher
	deduper    Deduper
	maxContext int

	resolve singleflight.Group
}

// NewIngestService validates its dependencies. deduper may be nil, in which
// case redelivered webhooks are processed again.
func NewIngestService(store ConversationStore, responder Responder, dispatcher Dispatcher, deduper Deduper, maxContext int) (*IngestService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if responder == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	if maxContext <= 0 {
		maxContext = defaultMaxContext
	}
	return &IngestService{
		store:      store,
		responder:  responder,
		dispatcher: dispatcher,
		deduper:    deduper,
		maxContext: maxContext,
	}, nil
}

// IngestBatch processes envs in order. A failing envelope never stops the
// ones after it; its error is logged and reflected in the result outcome.
func (s *IngestService) IngestBatch(ctx context.Context, envs []domain.Envelope) []IngestResult {
	results := make([]IngestResult, 0, len(envs))
	for _, env := range envs {
		res, err := s.Ingest(ctx, env)
		if err != nil {
			logIngestError(ctx, env, err)
		}
		results = append(results, res)
	}
	return results
}

func (s *IngestService) Ingest(ctx context.Context, env domain.Envelope) (res IngestResult, err error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Platform:          string(env.Platform),
		ExternalMessageID: env.ExternalMessageID,
		Component:         "helpdesk.usecase.ingest",
	})
	sc := logger.StartSpan(ctx, "ingest.envelope")
	defer sc.End()
	ctx = sc.Context()
	defer func() {
		if err != nil {
			sc.RecordError(err)
		}
	}()

	claimed := false
	persisted := false
	if key := env.DedupKey(); key != "" && s.deduper != nil {
		ok, claimErr := s.deduper.Claim(ctx, key)
		switch {
		case claimErr != nil:
			slog.WarnContext(ctx, "dedup claim failed, processing anyway", "error", claimErr)
		case !ok:
			slog.InfoContext(ctx, "duplicate delivery dropped", "dedup_key", key)
			return IngestResult{Outcome: OutcomeDuplicate}, nil
		default:
			claimed = true
		}
		defer func() {
			if claimed && !persisted {
				// let a redelivery retry this message
				if relErr := s.deduper.Release(context.WithoutCancel(ctx), key); relErr != nil {
					slog.WarnContext(ctx, "dedup release failed", "error", relErr)
				}
			}
		}()
	}

	text := strings.TrimSpace(env.Text)
	if text == "" {
		return IngestResult{Outcome: OutcomeSkipped}, newError(ErrorValidation, "empty_text", nil)
	}

	res.Outcome = OutcomeFailed

	conv, student, err := s.resolveConversation(ctx, env)
	if err != nil {
		return res, err
	}
	res.StudentID = student.ID
	res.ConversationID = conv.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{StudentID: student.ID, ConversationID: conv.ID})

	topic := classifier.ClassifyTopic(text)
	res.Topic = topic

	if _, err := s.store.AppendMessage(ctx, conv.ID, domain.SenderStudent, text, topic); err != nil {
		return res, newError(ErrorStore, "message_append_error", err)
	}
	persisted = true

	history, err := s.store.RecentMessages(ctx, conv.ID, s.maxContext)
	if err != nil {
		return res, newError(ErrorStore, "history_load_error", err)
	}

	reply, err := s.responder.Complete(ctx, buildPromptMessages(history))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return res, newError(ErrorProvider, "provider_rate_limited", err)
		}
		return res, newError(ErrorProvider, "provider_error", err)
	}

	if _, err := s.store.AppendMessage(ctx, conv.ID, domain.SenderBot, reply.Content, topic); err != nil {
		return res, newError(ErrorStore, "reply_append_error", err)
	}

	if reason := escalationReason(text, reply); reason != "" {
		escalated, err := s.escalate(ctx, conv.ID, topic, reason)
		if err != nil {
			return res, err
		}
		res.Escalated = escalated
		if escalated {
			sc.Event("conversation.escalated", "reason", reason, "topic", string(topic))
		}
	}

	if err := s.dispatcher.Send(ctx, env.Platform, env.ExternalSenderID, reply.Content); err != nil {
		return res, newError(ErrorDispatch, "dispatch_error", err)
	}
	res.Dispatched = true
	res.Outcome = OutcomeProcessed

	slog.InfoContext(ctx, "message processed",
		"topic", topic,
		"escalated", res.Escalated,
		"history_size", len(history),
	)
	return res, nil
}

// resolveConversation collapses concurrent resolutions for the same sender
// within this process. The store keeps the single-active invariant across
// processes. The shared call runs detached from any one caller's context;
// each caller stops waiting when its own context is done.
func (s *IngestService) resolveConversation(ctx context.Context, env domain.Envelope) (domain.Conversation, domain.Student, error) {
	type resolved struct {
		student domain.Student
		conv    domain.Conversation
	}

	key := string(env.Platform) + ":" + env.ExternalSenderID
	shared := context.WithoutCancel(ctx)
	ch := s.resolve.DoChan(key, func() (any, error) {
		student, err := s.store.UpsertStudent(shared, strings.TrimSpace(env.DisplayName), env.ExternalSenderID, env.Platform)
		if err != nil {
			return nil, newError(ErrorStore, "student_upsert_error", err)
		}
		conv, err := s.store.GetOrCreateActiveConversation(shared, student.ID)
		if err != nil {
			return nil, newError(ErrorStore, "conversation_resolve_error", err)
		}
		return resolved{student: student, conv: conv}, nil
	})

	select {
	case <-ctx.Done():
		return domain.Conversation{}, domain.Student{}, newError(ErrorStore, "conversation_resolve_error", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return domain.Conversation{}, domain.Student{}, r.Err
		}
		v := r.Val.(resolved)
		return v.conv, v.student, nil
	}
}

// escalate marks the conversation for review. A conversation resolved in the
// meantime is left alone and reported as not escalated.
func (s *IngestService) escalate(ctx context.Context, conversationID string, topic domain.Topic, reason string) (bool, error) {
	err := s.store.SetConversationStatus(ctx, conversationID, domain.StatusNeedsReview)
	if errors.Is(err, repository.ErrConversationClosed) {
		slog.WarnContext(ctx, "escalation skipped, conversation already resolved", "reason", reason)
		return false, nil
	}
	if err != nil {
		return false, newError(ErrorStore, "escalation_error", err)
	}
	slog.WarnContext(ctx, "conversation marked needs_review",
		"alert", true,
		"reason", reason,
		"topic", topic,
	)
	return true, nil
}

func escalationReason(text string, reply domain.Reply) string {
	switch {
	case classifier.NeedsHumanKeyword(text):
		return "keyword"
	case reply.LowConfidence:
		return "low_confidence"
	default:
		return ""
	}
}

func logIngestError(ctx context.Context, env domain.Envelope, err error) {
	attrs := []any{
		"platform", env.Platform,
		"external_message_id", env.ExternalMessageID,
		"error", err,
	}
	var ue *Error
	if errors.As(err, &ue) {
		attrs = append(attrs, "code", ue.Code, "reason", ue.Reason)
		if ue.Code == ErrorValidation {
			slog.InfoContext(ctx, "envelope skipped", attrs...)
			return
		}
	}
	slog.ErrorContext(ctx, "envelope failed", attrs...)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
