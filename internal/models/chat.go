package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist for the current user.
var ErrNotFound = errors.New("not found")

// Conversation represents a server-persisted, titled sequence of messages between a promotor and the
// assistant. ID is empty for a conversation that has not completed its first exchange yet, and Messages
// is nil when only the metadata is known (e.g. when it comes from a listing).
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time

	Messages []Message
}

// ConversationSummary is the list-view projection of a Conversation.
type ConversationSummary struct {
	ID           string
	Title        string
	UpdatedAt    time.Time
	MessageCount int
}

// Message represents an individual entry within a conversation. It contains the participant's role,
// the text body, the time it was created and its delivery status.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time

	Status Status
	// Error marks an assistant message that reports a failed exchange instead of a real reply.
	Error bool
}

// Role represents the role of a message participant.
type Role string

// Status represents the delivery state of a message.
type Status string

const (
	// RoleUser represents a message written by the promotor.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the assistant. Its content may contain markdown.
	RoleAssistant Role = "assistant"

	// StatusPending is set on a user message that was sent and is still waiting for the paired reply.
	StatusPending Status = "pending"
	// StatusConfirmed is the settled state of every message the server knows about.
	StatusConfirmed Status = "confirmed"
	// StatusFailed is terminal, a failed message is never changed again.
	StatusFailed Status = "failed"
)

// Valid reports whether r is one of the roles a conversation may contain.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Summary returns the list-view projection of the conversation.
func (c Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// ChatReply is the outcome of a single chat exchange with the assistant service.
type ChatReply struct {
	Content        string
	ConversationID string
	Title          string

	// Success is false when the service answered with its own apology instead of a real reply.
	Success bool
}

const titleMaxRunes = 50

// TitleFromMessage derives a conversation title from its first user message, cutting it to 50 runes
// and marking the cut with an ellipsis.
func TitleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= titleMaxRunes {
		return message
	}
	return string(runes[:titleMaxRunes]) + "..."
}
