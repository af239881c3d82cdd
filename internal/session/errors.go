package session

import "errors"

var (
	// ErrEmptyMessage is returned by Submit when the text is empty or whitespace only.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrAwaitingReply is returned by Submit while a previous message is still waiting for its reply.
	ErrAwaitingReply = errors.New("a reply is still pending")
	// ErrDirectoryUnavailable wraps any failure to fetch the conversation list.
	ErrDirectoryUnavailable = errors.New("conversation directory unavailable")
	// ErrSuperseded is returned when a result arrives for a session that has already been replaced.
	ErrSuperseded = errors.New("session superseded")
	// ErrInvalidRole is returned when a message with an unknown role is added to a log.
	ErrInvalidRole = errors.New("invalid message role")
)

// IsValidation reports whether err is a rejected submission that never reached the gateway.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrAwaitingReply)
}
