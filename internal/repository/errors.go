package repository

import "errors"

var (
	// ErrNotFound is returned when a referenced conversation does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConversationClosed is returned when escalating a resolved conversation.
	ErrConversationClosed = errors.New("repository: conversation is resolved")
	// ErrConflict is returned when conditional writes kept losing races.
	ErrConflict = errors.New("repository: write conflict")
)
