package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/promotor-copilot/internal/handlers"
	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/MegaGrindStone/promotor-copilot/internal/services"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type mockLLM struct {
	responses []string
	err       error

	mu       sync.Mutex
	received [][]models.Message
}

type mockTitleGenerator struct {
	title string
}

type failingStore struct {
	handlers.Store
}

func (m *mockLLM) Chat(_ context.Context, messages []models.Message) iter.Seq2[string, error] {
	m.mu.Lock()
	m.received = append(m.received, messages)
	m.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, r := range m.responses {
			if !yield(r, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func (m *mockLLM) lastHistory() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.received) == 0 {
		return nil
	}
	return m.received[len(m.received)-1]
}

func (m mockTitleGenerator) GenerateTitle(context.Context, string) (string, error) {
	return m.title, nil
}

func (failingStore) Conversations(context.Context, string) ([]models.ConversationSummary, error) {
	return nil, errors.New("disk on fire")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) services.BoltDB {
	t.Helper()

	store, err := services.NewBoltDB(filepath.Join(t.TempDir(), "copilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newCopilot(t *testing.T, llm handlers.LLM, tg handlers.TitleGenerator, store handlers.Store) http.Handler {
	t.Helper()

	c := handlers.NewCopilot(llm, tg, store, testSecret, discardLogger())
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c.Routes()
}

func signToken(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"name": "Ana Promotora",
		"exp":  time.Now().Add(ttl).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, h http.Handler, method, url, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type chatReply struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Success        bool   `json:"success"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	h := newCopilot(t, &mockLLM{}, nil, newStore(t))

	w := doRequest(t, h, http.MethodGet, "/api/health", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"status": "healthy", "service": handlers.ServiceName},
		decode[map[string]string](t, w))
}

func TestAuthentication(t *testing.T) {
	h := newCopilot(t, &mockLLM{}, nil, newStore(t))

	tests := []struct {
		name       string
		header     string
		url        string
		wantStatus int
	}{
		{
			name:       "Missing token",
			url:        "/api/copilot/conversations",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Wrong scheme",
			header:     "Basic abc",
			url:        "/api/copilot/conversations",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Wrong secret",
			header:     "Bearer " + signToken(t, "other-secret", "u1", time.Hour),
			url:        "/api/copilot/conversations",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Expired token",
			header:     "Bearer " + signToken(t, testSecret, "u1", -time.Hour),
			url:        "/api/copilot/conversations",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Missing subject",
			header:     "Bearer " + signToken(t, testSecret, "", time.Hour),
			url:        "/api/copilot/conversations",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Valid token",
			header:     "Bearer " + signToken(t, testSecret, "u1", time.Hour),
			url:        "/api/copilot/conversations",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Valid token in query",
			url:        "/api/copilot/conversations?token=" + signToken(t, testSecret, "u1", time.Hour),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"error"`)
			}
		})
	}
}

func TestHandleChat(t *testing.T) {
	token := signToken(t, testSecret, "u1", time.Hour)

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantError   string
		wantSuccess bool
	}{
		{
			name:       "Invalid body",
			body:       "{",
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "Empty message",
			body:       `{"message":"   "}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Message is required",
		},
		{
			name:       "Unknown conversation",
			body:       `{"message":"Hola","conversation_id":"nope"}`,
			wantStatus: http.StatusNotFound,
			wantError:  "Conversation not found",
		},
		{
			name:        "New conversation",
			body:        `{"message":"Hola","conversation_id":null}`,
			wantStatus:  http.StatusOK,
			wantSuccess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCopilot(t, &mockLLM{responses: []string{"Hola, ", "promotor"}}, nil, newStore(t))

			w := doRequest(t, h, http.MethodPost, "/api/copilot/chat", token, tt.body)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decode[map[string]string](t, w)["error"])
				return
			}
			res := decode[chatReply](t, w)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, "Hola, promotor", res.Response)
			assert.NotEmpty(t, res.ConversationID)
			assert.Equal(t, "Hola", res.Title)
		})
	}
}

func TestHandleChatContinuesConversation(t *testing.T) {
	token := signToken(t, testSecret, "u1", time.Hour)
	store := newStore(t)
	llm := &mockLLM{responses: []string{"Respuesta"}}
	h := newCopilot(t, llm, nil, store)

	w := doRequest(t, h, http.MethodPost, "/api/copilot/chat", token, `{"message":"Primera pregunta"}`)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[chatReply](t, w)

	body, err := json.Marshal(map[string]string{"message": "Segunda pregunta", "conversation_id": first.ConversationID})
	require.NoError(t, err)
	w = doRequest(t, h, http.MethodPost, "/api/copilot/chat", token, string(body))
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[chatReply](t, w)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	history := llm.lastHistory()
	require.Len(t, history, 3)
	assert.Equal(t, "Primera pregunta", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Segunda pregunta", history[2].Content)

	conv, err := store.Conversation(context.Background(), "u1", first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
	assert.Equal(t, "Primera pregunta", conv.Title)
}

func TestHandleChatProviderFailure(t *testing.T) {
	token := signToken(t, testSecret, "u1", time.Hour)
	store := newStore(t)

	tests := []struct {
		name string
		llm  *mockLLM
	}{
		{
			name: "Provider error",
			llm:  &mockLLM{responses: []string{"partial"}, err: errors.New("rate limited")},
		},
		{
			name: "Empty reply",
			llm:  &mockLLM{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCopilot(t, tt.llm, nil, store)

			w := doRequest(t, h, http.MethodPost, "/api/copilot/chat", token, `{"message":"Hola"}`)

			require.Equal(t, http.StatusOK, w.Code)
			res := decode[chatReply](t, w)
			assert.False(t, res.Success)
			assert.Equal(t, handlers.ApologyReply, res.Response)

			conv, err := store.Conversation(context.Background(), "u1", res.ConversationID)
			require.NoError(t, err)
			require.Len(t, conv.Messages, 2)
			assert.True(t, conv.Messages[1].Error)
			assert.Equal(t, handlers.ApologyReply, conv.Messages[1].Content)

			w = doRequest(t, h, http.MethodGet, "/api/copilot/conversations/"+res.ConversationID, token, "")
			require.Equal(t, http.StatusOK, w.Code)
			body := decode[struct {
				Conversation struct {
					Messages []map[string]any `json:"messages"`
				} `json:"conversation"`
			}](t, w)
			require.Len(t, body.Conversation.Messages, 2)
			assert.NotContains(t, body.Conversation.Messages[0], "error")
			assert.Equal(t, true, body.Conversation.Messages[1]["error"])
		})
	}
}

func TestHandleChatGeneratesTitle(t *testing.T) {
	token := signToken(t, testSecret, "u1", time.Hour)
	store := newStore(t)
	h := newCopilot(t, &mockLLM{responses: []string{"ok"}}, mockTitleGenerator{title: "Comisiones EFEX"}, store)

	w := doRequest(t, h, http.MethodPost, "/api/copilot/chat", token, `{"message":"Cuanto cuesta una transferencia?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[chatReply](t, w)
	assert.Equal(t, "Cuanto cuesta una transferencia?", res.Title)

	assert.Eventually(t, func() bool {
		conv, err := store.Conversation(context.Background(), "u1", res.ConversationID)
		return err == nil && conv.Title == "Comisiones EFEX"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConversationEndpoints(t *testing.T) {
	store := newStore(t)
	h := newCopilot(t, &mockLLM{responses: []string{"ok"}}, nil, store)
	alice := signToken(t, testSecret, "alice", time.Hour)
	bob := signToken(t, testSecret, "bob", time.Hour)

	var ids []string
	for _, msg := range []string{"uno", "dos"} {
		w := doRequest(t, h, http.MethodPost, "/api/copilot/chat", alice, `{"message":"`+msg+`"}`)
		require.Equal(t, http.StatusOK, w.Code)
		ids = append(ids, decode[chatReply](t, w).ConversationID)
		// Distinct activity times.
		time.Sleep(2 * time.Millisecond)
	}

	t.Run("List is scoped and most recent first", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/copilot/conversations", alice, "")
		require.Equal(t, http.StatusOK, w.Code)

		res := decode[struct {
			Conversations []struct {
				ID           string `json:"id"`
				Title        string `json:"title"`
				MessageCount int    `json:"message_count"`
			} `json:"conversations"`
		}](t, w)
		require.Len(t, res.Conversations, 2)
		assert.Equal(t, ids[1], res.Conversations[0].ID)
		assert.Equal(t, "dos", res.Conversations[0].Title)
		assert.Equal(t, 2, res.Conversations[0].MessageCount)
		assert.Equal(t, ids[0], res.Conversations[1].ID)

		w = doRequest(t, h, http.MethodGet, "/api/copilot/conversations", bob, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"conversations":[]}`, w.Body.String())
	})

	t.Run("Get returns messages in order", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/copilot/conversations/"+ids[0], alice, "")
		require.Equal(t, http.StatusOK, w.Code)

		res := decode[struct {
			Conversation struct {
				ID       string `json:"id"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			} `json:"conversation"`
		}](t, w)
		assert.Equal(t, ids[0], res.Conversation.ID)
		require.Len(t, res.Conversation.Messages, 2)
		assert.Equal(t, "user", res.Conversation.Messages[0].Role)
		assert.Equal(t, "uno", res.Conversation.Messages[0].Content)
		assert.Equal(t, "assistant", res.Conversation.Messages[1].Role)
	})

	t.Run("Other users can't see it", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/copilot/conversations/"+ids[0], bob, "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doRequest(t, h, http.MethodDelete, "/api/copilot/conversations/"+ids[0], bob, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		w := doRequest(t, h, http.MethodDelete, "/api/copilot/conversations/"+ids[0], alice, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Conversation deleted", decode[map[string]string](t, w)["message"])

		w = doRequest(t, h, http.MethodGet, "/api/copilot/conversations/"+ids[0], alice, "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doRequest(t, h, http.MethodDelete, "/api/copilot/conversations/"+ids[0], alice, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleConversationsStoreFailure(t *testing.T) {
	h := newCopilot(t, &mockLLM{}, nil, failingStore{Store: newStore(t)})

	w := doRequest(t, h, http.MethodGet, "/api/copilot/conversations", signToken(t, testSecret, "u1", time.Hour), "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to get conversations", decode[map[string]string](t, w)["error"])
}

func TestHandleEvents(t *testing.T) {
	store := newStore(t)
	srv := httptest.NewServer(newCopilot(t, &mockLLM{responses: []string{"ok"}}, nil, store))
	defer srv.Close()

	token := signToken(t, testSecret, "u1", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	postChat := func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/copilot/chat",
			strings.NewReader(`{"message":"Hola"}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	subscribed := make(chan result, 1)
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/copilot/events?token="+token, nil)
		if err != nil {
			subscribed <- result{err: err}
			return
		}
		resp, err := srv.Client().Do(req)
		subscribed <- result{resp: resp, err: err}
	}()

	// The stream may only answer once there is something to send, keep the directory changing
	// until it does.
	var res result
	for res.resp == nil && res.err == nil {
		select {
		case res = <-subscribed:
		case <-time.After(100 * time.Millisecond):
			postChat()
		}
	}
	require.NoError(t, res.err)
	defer res.resp.Body.Close()
	require.Equal(t, http.StatusOK, res.resp.StatusCode)
	assert.Contains(t, res.resp.Header.Get("Content-Type"), "text/event-stream")

	postChat()

	var eventType, data string
	scanner := bufio.NewScanner(res.resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			eventType = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(v)
		}
		if line == "" && eventType == "conversations" {
			break
		}
	}
	require.Equal(t, "conversations", eventType)

	var convs []struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &convs))
	require.NotEmpty(t, convs)
	for _, conv := range convs {
		assert.Equal(t, "Hola", conv.Title)
	}
}
