package handlers

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a large language model interface that provides chat functionality. It accepts a context
// and a sequence of messages, returning an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// TitleGenerator produces a short title for a conversation from its first message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for conversation and message persistence. Every operation is scoped to
// the user that owns the conversations; a conversation of another user behaves as if it didn't exist
// and yields models.ErrNotFound.
type Store interface {
	Conversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	Conversation(ctx context.Context, userID, id string) (models.Conversation, error)
	AddConversation(ctx context.Context, userID string, conv models.Conversation) (string, error)
	UpdateConversation(ctx context.Context, userID string, conv models.Conversation) error
	DeleteConversation(ctx context.Context, userID, id string) error

	AddMessage(ctx context.Context, userID, conversationID string, message models.Message) (string, error)
}

// Copilot serves the promotor copilot REST API: chat exchanges, the conversation directory of the
// authenticated user, and a server-sent events stream that pushes directory changes.
type Copilot struct {
	sseSrv *sse.Server

	llm            LLM
	titleGenerator TitleGenerator
	store          Store

	jwtSecret []byte

	logger *slog.Logger
	now    func() time.Time
}

// ServiceName is reported by the health endpoint.
const ServiceName = "EFEX Promotor Copilot API"

const errLoggerKey = "err"

// NewCopilot creates a Copilot. titleGenerator may be nil, in which case conversations keep the title
// derived from their first message. Requests are authenticated with HS256 tokens signed by jwtSecret.
func NewCopilot(llm LLM, titleGenerator TitleGenerator, store Store, jwtSecret string, logger *slog.Logger) Copilot {
	return Copilot{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				userID, ok := userIDFromContext(s.Req.Context())
				if !ok {
					return sse.Subscription{}, false
				}
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, conversationsTopic(userID)},
				}, true
			},
		},
		llm:            llm,
		titleGenerator: titleGenerator,
		store:          store,
		jwtSecret:      []byte(jwtSecret),
		logger:         logger.With(slog.String("module", "copilot")),
		now:            time.Now,
	}
}

func conversationsTopic(userID string) string {
	return fmt.Sprintf("conversations-%s", userID)
}

// Routes returns the HTTP handler of the API, mounted under /api.
func (c Copilot) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", c.HandleHealth)

		r.Group(func(r chi.Router) {
			r.Use(c.authenticate)

			r.Post("/copilot/chat", c.HandleChat)
			r.Get("/copilot/conversations", c.HandleConversations)
			r.Get("/copilot/conversations/{id}", c.HandleConversation)
			r.Delete("/copilot/conversations/{id}", c.HandleDeleteConversation)
			r.Get("/copilot/events", c.HandleEvents)
		})
	})

	return r
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close message to all connected
// clients and waits up to 5 seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (c Copilot) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("close")}
	// SSE events must carry data.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = c.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return c.sseSrv.Shutdown(ctx)
}
