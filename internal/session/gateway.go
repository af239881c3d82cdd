package session

import (
	"context"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
)

// Gateway is the boundary to the remote assistant service and its conversation store. Every method
// is a suspension point: it may block on the network and must honour ctx cancellation.
type Gateway interface {
	// SendChat sends text to the assistant. An empty conversationID asks the service to start a new
	// conversation, whose id is returned in the reply.
	SendChat(ctx context.Context, text, conversationID string) (models.ChatReply, error)
	// ListConversations returns the current user's conversations, most recent activity first.
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	// FetchConversation returns a conversation with its full message history.
	FetchConversation(ctx context.Context, id string) (models.Conversation, error)
	// DeleteConversation removes a conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error
}
