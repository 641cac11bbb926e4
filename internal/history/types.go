// Package history persists conversation transcripts in an S3-compatible
// object store, one JSON object per conversation.
package history

import (
	"errors"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Metadata describes a stored transcript.
type Metadata struct {
	Timestamp string `json:"timestamp"`
	Language  string `json:"language"`
	Model     string `json:"model"`
}

// History is the persisted form of one conversation.
type History struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Metadata       Metadata  `json:"metadata"`
}

// Validate checks that the message has a known role and non-empty content.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

var (
	// ErrNotFound indicates no transcript exists for the conversation ID.
	ErrNotFound = errors.New("conversation not found")

	// ErrObjectNotFound indicates the object store has no object at a key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidRole indicates a message carries an unknown role.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrEmptyContent indicates a message has no content.
	ErrEmptyContent = errors.New("empty message content")

	// ErrEmptyConversationID indicates a blank conversation ID.
	ErrEmptyConversationID = errors.New("empty conversation ID")
)
