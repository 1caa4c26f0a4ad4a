package domain

import "time"

// ConversationStatus is the review state of a conversation.
type ConversationStatus string

const (
	StatusOpen        ConversationStatus = "open"
	StatusNeedsReview ConversationStatus = "needs_review"
	StatusResolved    ConversationStatus = "resolved"
)

// Active reports whether the status counts as an active conversation.
func (s ConversationStatus) Active() bool {
	return s == StatusOpen || s == StatusNeedsReview
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	return s.Active() || s == StatusResolved
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderStudent Sender = "student"
	SenderBot     Sender = "bot"
)

// Role maps a message sender to the chat role used in completion requests.
func (s Sender) Role() string {
	if s == SenderStudent {
		return RoleUser
	}
	return RoleAssistant
}

// Conversation groups the messages exchanged with one student until resolved.
type Conversation struct {
	ID        string
	StudentID string
	Status    ConversationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single persisted conversation message. Seq is assigned by the
// store and defines the order of messages within a conversation.
type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Content        string
	Topic          Topic
	CreatedAt      time.Time
	Seq            int64
}
