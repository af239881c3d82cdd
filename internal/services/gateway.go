package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/tmaxmax/go-sse"
)

// ErrUnauthorized is returned when the backend rejects the credentials of a request.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for any non-2xx answer of the backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses onto the package sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return models.ErrNotFound
	}
	return nil
}

// HTTPGateway implements the session gateway over the copilot REST API. Every request carries the
// bearer token of its Auth context; an unauthorized answer invalidates that context so the next
// request starts from a fresh token. Failed requests are never retried.
type HTTPGateway struct {
	baseURL string
	auth    *Auth

	client *http.Client

	logger *slog.Logger
}

type chatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

type chatResponse struct {
	Response       string     `json:"response"`
	ConversationID flexibleID `json:"conversation_id"`
	Title          string     `json:"title,omitempty"`
	Success        *bool      `json:"success,omitempty"`
}

type conversationsResponse struct {
	Conversations []conversationJSON `json:"conversations"`
}

type conversationResponse struct {
	Conversation conversationJSON `json:"conversation"`
}

type conversationJSON struct {
	ID           flexibleID    `json:"id"`
	Title        string        `json:"title"`
	CreatedAt    apiTime       `json:"created_at"`
	UpdatedAt    apiTime       `json:"updated_at"`
	MessageCount int           `json:"message_count,omitempty"`
	Messages     []messageJSON `json:"messages,omitempty"`
}

type messageJSON struct {
	ID        flexibleID `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt apiTime    `json:"created_at"`
	Error     bool       `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPGateway creates a gateway for the backend at baseURL (e.g. "http://localhost:5000/api").
// A nil client falls back to a client with a 2 minute timeout.
func NewHTTPGateway(baseURL string, auth *Auth, client *http.Client, logger *slog.Logger) HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return HTTPGateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    auth,
		client:  client,
		logger:  logger.With(slog.String("module", "gateway")),
	}
}

// SendChat sends a chat message. An empty conversationID is sent as null, asking the backend to
// start a new conversation.
func (g HTTPGateway) SendChat(ctx context.Context, text, conversationID string) (models.ChatReply, error) {
	req := chatRequest{Message: text}
	if conversationID != "" {
		req.ConversationID = &conversationID
	}

	var res chatResponse
	if err := g.do(ctx, http.MethodPost, "/copilot/chat", req, &res); err != nil {
		return models.ChatReply{}, err
	}

	success := true
	if res.Success != nil {
		success = *res.Success
	}
	return models.ChatReply{
		Content:        res.Response,
		ConversationID: string(res.ConversationID),
		Title:          res.Title,
		Success:        success,
	}, nil
}

// ListConversations returns the user's conversations in backend order.
func (g HTTPGateway) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var res conversationsResponse
	if err := g.do(ctx, http.MethodGet, "/copilot/conversations", nil, &res); err != nil {
		return nil, err
	}

	return toSummaries(res.Conversations), nil
}

func toSummaries(convs []conversationJSON) []models.ConversationSummary {
	res := make([]models.ConversationSummary, len(convs))
	for i, c := range convs {
		res[i] = models.ConversationSummary{
			ID:           string(c.ID),
			Title:        c.Title,
			UpdatedAt:    time.Time(c.UpdatedAt),
			MessageCount: c.MessageCount,
		}
	}
	return res
}

// FetchConversation returns a conversation with all its messages.
func (g HTTPGateway) FetchConversation(ctx context.Context, id string) (models.Conversation, error) {
	var res conversationResponse
	if err := g.do(ctx, http.MethodGet, "/copilot/conversations/"+url.PathEscape(id), nil, &res); err != nil {
		return models.Conversation{}, err
	}

	c := res.Conversation
	msgs := make([]models.Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = models.Message{
			ID:        string(m.ID),
			Role:      models.Role(m.Role),
			Content:   m.Content,
			Timestamp: time.Time(m.CreatedAt),
			Status:    models.StatusConfirmed,
			Error:     m.Error,
		}
	}
	return models.Conversation{
		ID:        string(c.ID),
		Title:     c.Title,
		CreatedAt: time.Time(c.CreatedAt),
		UpdatedAt: time.Time(c.UpdatedAt),
		Messages:  msgs,
	}, nil
}

// DeleteConversation deletes a conversation.
func (g HTTPGateway) DeleteConversation(ctx context.Context, id string) error {
	return g.do(ctx, http.MethodDelete, "/copilot/conversations/"+url.PathEscape(id), nil, nil)
}

// WatchConversations subscribes to the backend event stream and yields the user's conversation list
// each time it changes. The stream ends when ctx is cancelled or the connection drops; a dropped
// connection is yielded as an error.
func (g HTTPGateway) WatchConversations(ctx context.Context) iter.Seq2[[]models.ConversationSummary, error] {
	return func(yield func([]models.ConversationSummary, error) bool) {
		token, err := g.auth.Token(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/copilot/events", nil)
		if err != nil {
			yield(nil, fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "text/event-stream")

		// The stream outlives any request timeout of the shared client.
		client := *g.client
		client.Timeout = 0
		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(nil, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode == http.StatusUnauthorized {
				g.auth.Invalidate()
			}
			yield(nil, &StatusError{StatusCode: resp.StatusCode})
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(nil, fmt.Errorf("error reading events: %w", err))
				return
			}
			switch ev.Type {
			case "conversations":
				var convs []conversationJSON
				if err := json.Unmarshal([]byte(ev.Data), &convs); err != nil {
					yield(nil, fmt.Errorf("error unmarshaling conversations: %w", err))
					return
				}
				if !yield(toSummaries(convs), nil) {
					return
				}
			case "close":
				return
			default:
				g.logger.Debug("Skipping event", slog.String("type", ev.Type))
			}
		}
	}
}

func (g HTTPGateway) do(ctx context.Context, method, path string, body, out any) error {
	token, err := g.auth.Token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			statusErr.Message = e.Error
		}
		if resp.StatusCode == http.StatusUnauthorized {
			g.auth.Invalidate()
		}
		g.logger.Warn("Request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// flexibleID accepts identifiers encoded either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(b), err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(b), err)
	}
	*f = flexibleID(n.String())
	return nil
}

// apiTime accepts RFC 3339 timestamps as well as ISO 8601 timestamps without a zone, read as UTC.
type apiTime time.Time

var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func (t *apiTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid time %s: %w", string(b), err)
	}
	if s == "" {
		*t = apiTime{}
		return nil
	}
	for _, layout := range apiTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = apiTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("invalid time %q", s)
}
