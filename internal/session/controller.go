package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/google/uuid"
)

// FallbackReply is the assistant text shown in place of a reply when the exchange fails.
const FallbackReply = "Lo siento, hubo un error. Por favor intenta de nuevo."

const errLoggerKey = "err"

// Controller drives the active chat session. It applies optimistic updates to the session's
// MessageLog, calls the Gateway and reconciles the outcome, and keeps the Directory in step when
// conversations are created or deleted.
//
// A session is either Idle or Sending. Every installed session gets a new generation number and
// gateway results are tagged with the generation they were issued for: a result arriving for a
// replaced session is dropped and reported as ErrSuperseded. The mutex is never held across a
// gateway call, so a directory refresh, a send and a switch may all be in flight at once.
type Controller struct {
	gateway   Gateway
	directory *Directory
	logger    *slog.Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	current *activeSession
	// nextGeneration numbers installed sessions.
	nextGeneration uint64
	// intent is bumped by every navigation request so that only the latest one may install a session.
	intent uint64
}

type activeSession struct {
	generation     uint64
	conversationID string
	title          string
	log            *MessageLog
	draft          string
	awaitingReply  bool
}

// State is a snapshot of the active session for presentation layers.
type State struct {
	ConversationID string
	Title          string
	Messages       []models.Message
	AwaitingReply  bool
	Draft          string
	Generation     uint64
}

// NewController creates a Controller with a fresh, empty session.
func NewController(gateway Gateway, directory *Directory, logger *slog.Logger) *Controller {
	c := &Controller{
		gateway:   gateway,
		directory: directory,
		logger:    logger.With(slog.String("module", "session")),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	c.install("", "", &MessageLog{})
	return c
}

// Directory returns the conversation directory the controller keeps up to date.
func (c *Controller) Directory() *Directory {
	return c.directory
}

// State returns a snapshot of the active session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		ConversationID: c.current.conversationID,
		Title:          c.current.title,
		Messages:       c.current.log.Messages(),
		AwaitingReply:  c.current.awaitingReply,
		Draft:          c.current.draft,
		Generation:     c.current.generation,
	}
}

// SetDraft stores the not yet sent input text of the active session.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current.draft = text
}

// Submit sends text as a user message and waits for the assistant reply.
//
// Empty or whitespace-only text fails with ErrEmptyMessage and a submission while a reply is pending
// fails with ErrAwaitingReply; neither touches the log. Otherwise the user message is appended as
// pending before the gateway is called. A gateway failure is not returned: it is recorded in the log
// as an assistant message flagged Error carrying FallbackReply. The returned message is the assistant
// message appended to the log. If the session was replaced while waiting, nothing is applied and
// ErrSuperseded is returned.
func (c *Controller) Submit(ctx context.Context, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	sess := c.current
	if sess.awaitingReply {
		c.mu.Unlock()
		return models.Message{}, ErrAwaitingReply
	}

	userMsg := models.Message{
		ID:        c.newID(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: c.now(),
		Status:    models.StatusPending,
	}
	if err := sess.log.Append(userMsg); err != nil {
		c.mu.Unlock()
		return models.Message{}, err
	}
	sess.draft = ""
	sess.awaitingReply = true
	convID := sess.conversationID
	generation := sess.generation
	c.mu.Unlock()

	c.logger.Debug("Sending message",
		slog.String("conversationID", convID),
		slog.Uint64("generation", generation))

	reply, err := c.gateway.SendChat(ctx, text, convID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.generation != generation {
		c.logger.Debug("Discarding reply for superseded session",
			slog.Uint64("generation", generation),
			slog.Uint64("current", c.current.generation))
		return models.Message{}, ErrSuperseded
	}

	sess.log.ReplaceLast(func(m models.Message) bool {
		return m.ID == userMsg.ID
	}, func(m *models.Message) {
		m.Status = models.StatusConfirmed
	})

	assistantMsg := models.Message{
		ID:        c.newID(),
		Role:      models.RoleAssistant,
		Timestamp: c.now(),
		Status:    models.StatusConfirmed,
	}
	if err != nil {
		c.logger.Error("Failed to send message",
			slog.String("conversationID", convID),
			slog.String(errLoggerKey, err.Error()))
		assistantMsg.Content = FallbackReply
		assistantMsg.Error = true
	} else {
		assistantMsg.Content = reply.Content
		assistantMsg.Error = !reply.Success
		if sess.conversationID == "" && reply.ConversationID != "" {
			sess.conversationID = reply.ConversationID
			sess.title = reply.Title
			if sess.title == "" {
				sess.title = models.TitleFromMessage(text)
			}
			c.directory.UpsertFromSession(sess.conversationID, sess.title)
			c.logger.Info("Conversation created", slog.String("conversationID", sess.conversationID))
		}
	}

	// The role is fixed above, Append cannot fail here.
	_ = sess.log.Append(assistantMsg)
	sess.awaitingReply = false

	return assistantMsg, nil
}

// SwitchTo replaces the active session with the conversation identified by id, loading its full
// history from the gateway. Any unsent draft is discarded. If the fetch fails the active session is
// left untouched and the error is returned. If another navigation happened while fetching, the
// result is dropped and ErrSuperseded is returned.
func (c *Controller) SwitchTo(ctx context.Context, id string) error {
	c.mu.Lock()
	c.intent++
	intent := c.intent
	c.mu.Unlock()

	conv, err := c.gateway.FetchConversation(ctx, id)
	if err != nil {
		c.logger.Error("Failed to fetch conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to fetch conversation %s: %w", id, err)
	}

	msgs := make([]models.Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		if msg.Status == "" {
			msg.Status = models.StatusConfirmed
		}
		msgs[i] = msg
	}
	log, err := NewMessageLog(msgs...)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.intent != intent {
		c.logger.Debug("Discarding superseded conversation fetch", slog.String("conversationID", id))
		return ErrSuperseded
	}

	convID := conv.ID
	if convID == "" {
		convID = id
	}
	c.install(convID, conv.Title, log)
	return nil
}

// StartNew replaces the active session with an empty one that has no conversation id yet.
func (c *Controller) StartNew() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.intent++
	c.install("", "", &MessageLog{})
}

// DeleteCurrent deletes the active conversation and falls back to a new empty session. The session
// is replaced before the remote delete is issued and regardless of its outcome; the remote error, if
// any, is returned.
func (c *Controller) DeleteCurrent(ctx context.Context) error {
	c.mu.Lock()
	id := c.current.conversationID
	c.intent++
	c.install("", "", &MessageLog{})
	c.mu.Unlock()

	if id == "" {
		return nil
	}
	return c.directory.Remove(ctx, id)
}

// Delete deletes the conversation identified by id. Deleting the active conversation behaves like
// DeleteCurrent, any other conversation is only removed from the directory.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.current.conversationID != "" && c.current.conversationID == id {
		c.intent++
		c.install("", "", &MessageLog{})
	}
	c.mu.Unlock()

	return c.directory.Remove(ctx, id)
}

// install must be called with c.mu held.
func (c *Controller) install(conversationID, title string, log *MessageLog) {
	c.nextGeneration++
	c.current = &activeSession{
		generation:     c.nextGeneration,
		conversationID: conversationID,
		title:          title,
		log:            log,
	}
}
