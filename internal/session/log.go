package session

import (
	"fmt"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
)

// MessageLog is the ordered, append-only sequence of messages of one conversation. Entries are never
// removed, reordered or deduplicated; the whole log is discarded instead when the session changes.
//
// MessageLog is not safe for concurrent use, the Controller owning it serialises access.
type MessageLog struct {
	messages []models.Message
}

// NewMessageLog builds a log from already known messages, typically a fetched conversation history.
func NewMessageLog(messages ...models.Message) (*MessageLog, error) {
	l := &MessageLog{messages: make([]models.Message, 0, len(messages))}
	for _, msg := range messages {
		if err := l.Append(msg); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append adds msg to the end of the log. Content is not validated, only the role. A timestamp older
// than the last entry is raised to it so time never goes backwards within the log.
func (l *MessageLog) Append(msg models.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if n := len(l.messages); n > 0 && msg.Timestamp.Before(l.messages[n-1].Timestamp) {
		msg.Timestamp = l.messages[n-1].Timestamp
	}
	l.messages = append(l.messages, msg)
	return nil
}

// ReplaceLast applies update to the most recent message matching pred, in place. It reports whether
// an entry was updated. Failed messages are terminal and are never updated, and an update that would
// give the message an invalid role is dropped.
func (l *MessageLog) ReplaceLast(pred func(models.Message) bool, update func(*models.Message)) bool {
	for i := len(l.messages) - 1; i >= 0; i-- {
		if !pred(l.messages[i]) {
			continue
		}
		if l.messages[i].Status == models.StatusFailed {
			return false
		}
		msg := l.messages[i]
		update(&msg)
		if !msg.Role.Valid() {
			return false
		}
		msg.Timestamp = l.messages[i].Timestamp
		l.messages[i] = msg
		return true
	}
	return false
}

// Messages returns a copy of the entries in append order.
func (l *MessageLog) Messages() []models.Message {
	out := make([]models.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of entries.
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// Last returns the most recent entry, if any.
func (l *MessageLog) Last() (models.Message, bool) {
	if len(l.messages) == 0 {
		return models.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}
