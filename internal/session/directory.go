package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
)

// Directory holds the list of conversations known for the current user, in the order the gateway
// returns them (most recent activity first). It is authoritative only for the list view, never for
// message content.
//
// Local changes made while a refresh is in flight are replayed on top of the refreshed list, so a
// slow refresh can neither resurrect a removed entry nor drop a freshly created one.
type Directory struct {
	gateway Gateway
	logger  *slog.Logger

	mu      sync.Mutex
	entries []models.ConversationSummary

	// seq numbers local mutations; journal keeps those that an in-flight refresh has not seen.
	seq      uint64
	journal  []directoryOp
	inFlight int

	// refreshes numbers issued refreshes; applied is the number of the last one applied.
	refreshes uint64
	applied   uint64
}

type directoryOp struct {
	seq     uint64
	remove  bool
	summary models.ConversationSummary
}

// NewDirectory creates an empty Directory backed by gateway.
func NewDirectory(gateway Gateway, logger *slog.Logger) *Directory {
	return &Directory{
		gateway: gateway,
		logger:  logger.With(slog.String("module", "directory")),
	}
}

// List returns a copy of the current entries.
func (d *Directory) List() []models.ConversationSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.entries)
}

// Refresh replaces the whole list with the one from the gateway. On failure the previous list is
// kept as is and the returned error wraps ErrDirectoryUnavailable.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	startSeq := d.seq
	d.refreshes++
	ticket := d.refreshes
	d.inFlight++
	d.mu.Unlock()

	convs, err := d.gateway.ListConversations(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.finishRefresh()

	if err != nil {
		d.logger.Error("Failed to refresh conversations", slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	// A refresh issued before the one already applied carries older data.
	if ticket < d.applied {
		d.logger.Debug("Discarding stale refresh", slog.Uint64("refresh", ticket))
		return nil
	}

	entries := slices.Clone(convs)
	for _, op := range d.journal {
		if op.seq <= startSeq {
			continue
		}
		if op.remove {
			entries = removeEntry(entries, op.summary.ID)
			continue
		}
		entries = upsertEntry(entries, op.summary)
	}
	d.entries = entries
	d.applied = ticket

	d.logger.Debug("Conversations refreshed", slog.Int("count", len(d.entries)))
	return nil
}

// Remove drops the conversation from the list immediately and then deletes it remotely. A remote
// failure is returned but the entry is not restored; an explicit Refresh resynchronises the list.
func (d *Directory) Remove(ctx context.Context, id string) error {
	d.mu.Lock()
	d.entries = removeEntry(d.entries, id)
	d.record(directoryOp{remove: true, summary: models.ConversationSummary{ID: id}})
	d.mu.Unlock()

	if err := d.gateway.DeleteConversation(ctx, id); err != nil {
		d.logger.Error("Failed to delete conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// UpsertFromSession puts the conversation at the head of the list without a gateway round-trip. It
// is called once a new session's first exchange yields a server id.
func (d *Directory) UpsertFromSession(conversationID, title string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	summary := models.ConversationSummary{ID: conversationID, Title: title}
	if idx := slices.IndexFunc(d.entries, func(c models.ConversationSummary) bool {
		return c.ID == conversationID
	}); idx != -1 {
		summary.UpdatedAt = d.entries[idx].UpdatedAt
		summary.MessageCount = d.entries[idx].MessageCount
		if title == "" {
			summary.Title = d.entries[idx].Title
		}
	}
	d.entries = upsertEntry(d.entries, summary)
	d.record(directoryOp{summary: summary})
}

func (d *Directory) record(op directoryOp) {
	d.seq++
	if d.inFlight == 0 {
		return
	}
	op.seq = d.seq
	d.journal = append(d.journal, op)
}

func (d *Directory) finishRefresh() {
	d.inFlight--
	if d.inFlight == 0 {
		d.journal = nil
	}
}

func removeEntry(entries []models.ConversationSummary, id string) []models.ConversationSummary {
	return slices.DeleteFunc(entries, func(c models.ConversationSummary) bool {
		return c.ID == id
	})
}

func upsertEntry(entries []models.ConversationSummary, summary models.ConversationSummary) []models.ConversationSummary {
	entries = removeEntry(entries, summary.ID)
	return slices.Insert(entries, 0, summary)
}
