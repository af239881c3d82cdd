package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
)

var errTransport = errors.New("connection refused")

type sendCall struct {
	text           string
	conversationID string
}

type fetchResult struct {
	conv models.Conversation
	err  error
}

// fakeGateway is a scriptable session.Gateway. A non-nil gate channel makes the matching call block
// until the channel is closed; the started channels report that a call has reached the gateway.
type fakeGateway struct {
	mu sync.Mutex

	sendReply   models.ChatReply
	sendErr     error
	sendGate    chan struct{}
	sendStarted chan struct{}
	sendCalls   []sendCall

	conversations []models.ConversationSummary
	listErr       error
	listGate      chan struct{}
	listStarted   chan struct{}
	listCalls     int

	fetches      map[string]fetchResult
	fetchGates   map[string]chan struct{}
	fetchStarted chan string

	deleteErr error
	deleted   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sendStarted:  make(chan struct{}, 8),
		listStarted:  make(chan struct{}, 8),
		fetches:      map[string]fetchResult{},
		fetchGates:   map[string]chan struct{}{},
		fetchStarted: make(chan string, 8),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fakeGateway) SendChat(ctx context.Context, text, conversationID string) (models.ChatReply, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, sendCall{text: text, conversationID: conversationID})
	gate := f.sendGate
	f.mu.Unlock()

	f.sendStarted <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.ChatReply{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.ChatReply{}, f.sendErr
	}
	return f.sendReply, nil
}

func (f *fakeGateway) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.listGate
	f.mu.Unlock()

	f.listStarted <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.ConversationSummary, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeGateway) FetchConversation(ctx context.Context, id string) (models.Conversation, error) {
	f.mu.Lock()
	gate := f.fetchGates[id]
	f.mu.Unlock()

	f.fetchStarted <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Conversation{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.fetches[id]
	if !ok {
		return models.Conversation{}, errors.New("conversation not found")
	}
	return res.conv, res.err
}

func (f *fakeGateway) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeGateway) sends() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.sendCalls))
	copy(out, f.sendCalls)
	return out
}

func (f *fakeGateway) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}
