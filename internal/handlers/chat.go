package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// ApologyReply is returned as the assistant reply when the model provider fails. The exchange is
// still stored and answered with success set to false.
const ApologyReply = "Lo siento, hubo un error al procesar tu solicitud. Por favor intenta de nuevo."

const titleTimeout = 30 * time.Second

var conversationsSSEType = sse.Type("conversations")

type chatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Success        bool   `json:"success"`
}

type conversationSummaryJSON struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type conversationJSON struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []messageJSON `json:"messages"`
}

type messageJSON struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Error     bool      `json:"error,omitempty"`
}

// HandleHealth reports that the service is up. It requires no authentication.
func (c Copilot) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// HandleChat processes a chat message of the authenticated user.
//
// The request body is a JSON object with a required "message" and an optional "conversation_id".
// Without a conversation id a new conversation is created, titled after the message; an unknown id
// answers 404. The user message, the full history and the reply are stored, and the reply is
// answered with the id of the conversation it belongs to. A model provider failure still answers 200,
// with ApologyReply as the response and success set to false.
func (c Copilot) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	var conv models.Conversation
	isNew := req.ConversationID == nil || *req.ConversationID == ""
	if isNew {
		now := c.now()
		conv = models.Conversation{
			ID:        uuid.New().String(),
			Title:     models.TitleFromMessage(msg),
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := c.store.AddConversation(r.Context(), userID, conv)
		if err != nil {
			c.logger.Error("Failed to add conversation",
				slog.String("userID", userID),
				slog.String(errLoggerKey, err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
		conv.ID = id
	} else {
		var err error
		conv, err = c.store.Conversation(r.Context(), userID, *req.ConversationID)
		if err != nil {
			c.writeStoreError(w, "Failed to get conversation", *req.ConversationID, err)
			return
		}
	}

	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   msg,
		Timestamp: c.now(),
	}
	if _, err := c.store.AddMessage(r.Context(), userID, conv.ID, um); err != nil {
		c.logger.Error("Failed to add user message",
			slog.String("conversationID", conv.ID),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to save message")
		return
	}

	history := append(conv.Messages, um)
	reply, success := c.complete(r.Context(), conv.ID, history)

	am := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: c.now(),
		Error:     !success,
	}
	if _, err := c.store.AddMessage(r.Context(), userID, conv.ID, am); err != nil {
		c.logger.Error("Failed to add assistant message",
			slog.String("conversationID", conv.ID),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to save message")
		return
	}

	if isNew && c.titleGenerator != nil {
		go c.generateTitle(userID, conv.ID, msg)
	}
	c.publishConversations(r.Context(), userID)

	writeJSON(w, http.StatusOK, chatResponse{
		Response:       reply,
		ConversationID: conv.ID,
		Title:          conv.Title,
		Success:        success,
	})
}

// HandleConversations lists the conversations of the authenticated user, most recently updated first.
func (c Copilot) HandleConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	convs, err := c.conversations(r.Context(), userID)
	if err != nil {
		c.logger.Error("Failed to get conversations",
			slog.String("userID", userID),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to get conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// HandleConversation returns a conversation of the authenticated user with all its messages.
func (c Copilot) HandleConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	conv, err := c.store.Conversation(r.Context(), userID, id)
	if err != nil {
		c.writeStoreError(w, "Failed to get conversation", id, err)
		return
	}

	msgs := make([]messageJSON, len(conv.Messages))
	for i, m := range conv.Messages {
		msgs[i] = messageJSON{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.Timestamp,
			Error:     m.Error,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conversationJSON{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
			Messages:  msgs,
		},
	})
}

// HandleDeleteConversation deletes a conversation of the authenticated user and all its messages.
func (c Copilot) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := c.store.DeleteConversation(r.Context(), userID, id); err != nil {
		c.writeStoreError(w, "Failed to delete conversation", id, err)
		return
	}
	c.publishConversations(r.Context(), userID)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}

// HandleEvents streams directory changes of the authenticated user as server-sent events. Each
// "conversations" event carries the full conversation list as JSON.
func (c Copilot) HandleEvents(w http.ResponseWriter, r *http.Request) {
	c.sseSrv.ServeHTTP(w, r)
}

// complete runs the model over history and collects the streamed reply. A provider failure is
// logged and turned into ApologyReply.
func (c Copilot) complete(ctx context.Context, conversationID string, history []models.Message) (string, bool) {
	var sb strings.Builder
	for chunk, err := range c.llm.Chat(ctx, history) {
		if err != nil {
			c.logger.Error("Error from llm provider",
				slog.String("conversationID", conversationID),
				slog.String(errLoggerKey, err.Error()))
			return ApologyReply, false
		}
		sb.WriteString(chunk)
	}

	reply := sb.String()
	if strings.TrimSpace(reply) == "" {
		c.logger.Error("Empty reply from llm provider", slog.String("conversationID", conversationID))
		return ApologyReply, false
	}
	return reply, true
}

func (c Copilot) generateTitle(userID, conversationID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	title, err := c.titleGenerator.GenerateTitle(ctx, message)
	if err != nil {
		c.logger.Error("Error generating conversation title",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}

	err = c.store.UpdateConversation(ctx, userID, models.Conversation{
		ID:    conversationID,
		Title: title,
	})
	if err != nil {
		// The conversation may have been deleted meanwhile.
		c.logger.Warn("Failed to update conversation title",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	c.publishConversations(ctx, userID)
}

func (c Copilot) publishConversations(ctx context.Context, userID string) {
	convs, err := c.conversations(ctx, userID)
	if err != nil {
		c.logger.Error("Failed to get conversations",
			slog.String("userID", userID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	data, err := json.Marshal(convs)
	if err != nil {
		c.logger.Error("Failed to marshal conversations", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: conversationsSSEType,
	}
	msg.AppendData(string(data))
	if err := c.sseSrv.Publish(&msg, conversationsTopic(userID)); err != nil {
		c.logger.Error("Failed to publish conversations", slog.String(errLoggerKey, err.Error()))
	}
}

func (c Copilot) conversations(ctx context.Context, userID string) ([]conversationSummaryJSON, error) {
	convs, err := c.store.Conversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]conversationSummaryJSON, len(convs))
	for i, conv := range convs {
		res[i] = conversationSummaryJSON{
			ID:           conv.ID,
			Title:        conv.Title,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: conv.MessageCount,
		}
	}
	return res, nil
}

func (c Copilot) writeStoreError(w http.ResponseWriter, msg, conversationID string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	c.logger.Error(msg,
		slog.String("conversationID", conversationID),
		slog.String(errLoggerKey, err.Error()))
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, an encoding error can't be reported anymore.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
