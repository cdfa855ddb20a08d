// Package history keeps the conversation history list of one browser
// session consistent with the chat backend and the local snapshots.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/meshchat/internal/cancel"
	"github.com/ashureev/meshchat/internal/conversation"
	"github.com/ashureev/meshchat/internal/domain"
)

// Backend lists and deletes the conversations known to the chat backend.
type Backend interface {
	ListConversations(ctx context.Context) ([]string, error)
	DeleteConversations(ctx context.Context, ids []string) error
}

// Persistence loads local conversation snapshots.
type Persistence interface {
	LoadMany(ctx context.Context, conversationIDs []string) (map[string][]*domain.Message, error)
}

// Controller rebuilds the history list.
type Controller struct {
	backend Backend
	store   Persistence
	index   *conversation.Index
	logger  *slog.Logger

	mu         sync.Mutex
	backendIDs []string
	entries    []domain.Entry
	inflight   *cancel.Promise[[]string]
}

// NewController creates a controller over a session's index.
func NewController(backend Backend, store Persistence, index *conversation.Index, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		backend: backend,
		store:   store,
		index:   index,
		logger:  logger,
	}
}

// Refresh reconciles the backend conversation ids with the local snapshots.
// Backend ids with neither a local snapshot nor live messages in the index
// are orphans and are deleted from the backend on a best-effort basis. When
// the snapshots cannot be read nothing is treated as an orphan. Snapshots
// are loaded into the index only for conversations it does not hold yet. A
// refresh superseded by a newer one returns without changing anything.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight != nil {
		c.inflight.Cancel()
	}
	p := cancel.Go(ctx, c.backend.ListConversations)
	c.inflight = p
	c.mu.Unlock()

	ids, err := p.Await()
	if errors.Is(err, cancel.ErrCanceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list backend conversations: %w", err)
	}

	loaded, loadErr := c.store.LoadMany(ctx, ids)
	if loadErr != nil {
		c.logger.Warn("failed to read local conversations, keeping backend ids", "count", len(ids), "error", loadErr)
	}

	var orphans, survivors []string
	for _, id := range ids {
		_, stored := loaded[id]
		if stored || c.index.Len(id) > 0 || loadErr != nil {
			survivors = append(survivors, id)
		} else {
			orphans = append(orphans, id)
		}
	}

	if len(orphans) > 0 {
		if err := c.backend.DeleteConversations(ctx, orphans); err != nil {
			c.logger.Warn("failed to delete orphaned conversations", "count", len(orphans), "error", err)
		} else {
			c.logger.Debug("deleted orphaned conversations", "count", len(orphans))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p.IsCanceled() {
		return nil
	}
	c.inflight = nil
	for id, msgs := range loaded {
		c.index.Seed(id, msgs)
	}
	c.backendIDs = survivors
	c.entries = c.buildEntries()
	return nil
}

// Update rebuilds the entries from the index for the last known backend ids.
func (c *Controller) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = c.buildEntries()
}

// Track adds a conversation id to the known set without a backend round trip.
func (c *Controller) Track(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.backendIDs {
		if id == conversationID {
			c.entries = c.buildEntries()
			return
		}
	}
	c.backendIDs = append(c.backendIDs, conversationID)
	c.entries = c.buildEntries()
}

// Entries returns the current history list.
func (c *Controller) Entries() []domain.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Entry{}, c.entries...)
}

// Search filters the entries by a case-insensitive substring of any message
// content. An empty term returns every entry; no match returns a single
// placeholder entry.
func (c *Controller) Search(term string) []domain.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := strings.ToLower(term)
	if target == "" {
		return append([]domain.Entry{}, c.entries...)
	}

	var out []domain.Entry
	for _, e := range c.entries {
		msgs, ok := c.index.Get(e.ID)
		if !ok {
			continue
		}
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), target) {
				out = append(out, e)
				break
			}
		}
	}
	if len(out) == 0 {
		return []domain.Entry{{Text: domain.NoResultsText, Placeholder: true}}
	}
	return out
}

// buildEntries is called with c.mu held.
func (c *Controller) buildEntries() []domain.Entry {
	entries := make([]domain.Entry, 0, len(c.backendIDs))
	for _, id := range c.backendIDs {
		msgs, ok := c.index.Get(id)
		if !ok || len(msgs) == 0 {
			continue
		}
		entries = append(entries, domain.Entry{ID: id, Text: domain.PreviewText(msgs)})
	}
	return entries
}
