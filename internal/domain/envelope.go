package domain

import "time"

// Envelope is the platform-independent shape of one inbound message.
// ExternalMessageID is the platform's own message id and may be empty.
type Envelope struct {
	Platform          Platform
	ExternalSenderID  string
	DisplayName       string
	Text              string
	ReceivedAt        time.Time
	ExternalMessageID string
}

// DedupKey returns the delivery key used to drop redelivered webhooks, or ""
// when the platform supplied no message id.
func (e Envelope) DedupKey() string {
	if e.ExternalMessageID == "" {
		return ""
	}
	return string(e.Platform) + ":" + e.ExternalMessageID
}
