package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"student-helpdesk/internal/domain"
	"student-helpdesk/internal/id"
)

// Memory is an in-process store with the same semantics as Client. It backs
// the local server and tests. A single mutex makes every find-or-create atomic.
type Memory struct {
	mu            sync.Mutex
	now           func() time.Time
	seq           int64
	students      map[string]domain.Student // identity key -> student
	conversations map[string]domain.Conversation
	active        map[string]string // student id -> conversation id
	messages      map[string][]domain.Message
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		students:      make(map[string]domain.Student),
		conversations: make(map[string]domain.Conversation),
		active:        make(map[string]string),
		messages:      make(map[string][]domain.Message),
	}
}

func (m *Memory) UpsertStudent(_ context.Context, name, identifier string, platform domain.Platform) (domain.Student, error) {
	if strings.TrimSpace(identifier) == "" {
		return domain.Student{}, errors.New("repository: UpsertStudent: identifier is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultStudentName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := identityPK(platform, identifier)
	if s, ok := m.students[k]; ok {
		if s.Name == domain.DefaultStudentName && name != domain.DefaultStudentName {
			s.Name = name
			m.students[k] = s
		}
		return s, nil
	}
	s := domain.Student{
		ID:         id.NewUUID(),
		Name:       name,
		Identifier: identifier,
		Platform:   platform,
		CreatedAt:  m.now().UTC(),
	}
	m.students[k] = s
	return s, nil
}

func (m *Memory) GetOrCreateActiveConversation(_ context.Context, studentID string) (domain.Conversation, error) {
	if strings.TrimSpace(studentID) == "" {
		return domain.Conversation{}, errors.New("repository: GetOrCreateActiveConversation: student id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if convID, ok := m.active[studentID]; ok {
		if conv := m.conversations[convID]; conv.Status.Active() {
			return conv, nil
		}
	}
	now := m.now().UTC()
	conv := domain.Conversation{
		ID:        id.NewUUID(),
		StudentID: studentID,
		Status:    domain.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	m.active[studentID] = conv.ID
	return conv, nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation %q: %w", conversationID, ErrNotFound)
	}
	return conv, nil
}

func (m *Memory) AppendMessage(_ context.Context, conversationID string, sender domain.Sender, content string, topic domain.Topic) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage %q: %w", conversationID, ErrNotFound)
	}
	m.seq++
	now := m.now().UTC()
	msg := domain.Message{
		ID:             strconv.FormatInt(m.seq, 10),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Topic:          topic,
		CreatedAt:      now,
		Seq:            m.seq,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	conv.UpdatedAt = now
	m.conversations[conversationID] = conv
	return msg, nil
}

func (m *Memory) RecentMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[conversationID]
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := make([]domain.Message, len(all)-start)
	copy(out, all[start:])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *Memory) SetConversationStatus(_ context.Context, conversationID string, status domain.ConversationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("repository: SetConversationStatus: unknown status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("repository: SetConversationStatus %q: %w", conversationID, ErrNotFound)
	}
	if status == domain.StatusNeedsReview && conv.Status == domain.StatusResolved {
		return fmt.Errorf("repository: SetConversationStatus %q: %w", conversationID, ErrConversationClosed)
	}
	conv.Status = status
	conv.UpdatedAt = m.now().UTC()
	m.conversations[conversationID] = conv
	return nil
}

// Students returns every stored student.
func (m *Memory) Students() []domain.Student {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	return out
}

// Conversations returns the conversations of a student, oldest first.
func (m *Memory) Conversations(studentID string) []domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Conversation
	for _, c := range m.conversations {
		if c.StudentID == studentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
