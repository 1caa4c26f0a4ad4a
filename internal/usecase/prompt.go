package usecase

import (
	"strings"

	"student-helpdesk/internal/domain"
)

const systemPrompt = "You are a helpful university student support assistant. Answer clearly, professionally, and concisely."

// buildPromptMessages returns the system prompt followed by history in
// chronological order, with student turns as user and bot turns as assistant.
func buildPromptMessages(history []domain.Message) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: m.Sender.Role(), Content: content})
	}
	return messages
}
