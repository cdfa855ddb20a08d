// Package conversation holds the in-memory message store of one browser session.
package conversation

import (
	"sort"
	"sync"

	"github.com/ashureev/meshchat/internal/domain"
)

// Index maps conversation ids to their ordered message lists.
//
// An Index is owned by a single browser session and lives as long as that
// session. It performs no I/O.
type Index struct {
	mu            sync.RWMutex
	conversations map[string][]*domain.Message
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		conversations: make(map[string][]*domain.Message),
	}
}

// Append inserts msg into the conversation. When insertAfter is a message of
// the conversation the new message is placed right after it, otherwise at the
// tail. Actions are cleared on every message already present; messages that
// had none keep their identity.
func (x *Index) Append(conversationID string, msg *domain.Message, insertAfter *domain.Message) []*domain.Message {
	x.mu.Lock()
	defer x.mu.Unlock()

	current := x.conversations[conversationID]
	next := InsertMessage(current, msg, insertAfter)
	x.conversations[conversationID] = next
	return cloneList(next)
}

// InsertMessage returns a new list with msg inserted after insertAfter (or
// at the tail) and actions cleared on the existing messages. The input slice
// is not modified.
func InsertMessage(list []*domain.Message, msg *domain.Message, insertAfter *domain.Message) []*domain.Message {
	next := make([]*domain.Message, 0, len(list)+1)
	inserted := false
	for _, m := range list {
		if m.HasActions() {
			next = append(next, m.WithoutActions())
		} else {
			next = append(next, m)
		}
		if !inserted && insertAfter != nil && m == insertAfter {
			next = append(next, msg)
			inserted = true
		}
	}
	if !inserted {
		next = append(next, msg)
	}
	return next
}

// Replace swaps the whole message list of a conversation.
func (x *Index) Replace(conversationID string, msgs []*domain.Message) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.conversations[conversationID] = cloneList(msgs)
}

// Seed stores msgs only when the conversation is not already held, and
// reports whether it did. In-memory lists are never older than their
// persisted snapshots, so rehydration must not overwrite them.
func (x *Index) Seed(conversationID string, msgs []*domain.Message) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.conversations[conversationID]; ok {
		return false
	}
	x.conversations[conversationID] = cloneList(msgs)
	return true
}

// Get returns a copy of the message list and whether the conversation is known.
func (x *Index) Get(conversationID string) ([]*domain.Message, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	msgs, ok := x.conversations[conversationID]
	if !ok {
		return nil, false
	}
	return cloneList(msgs), true
}

// Len returns the number of messages in a conversation.
func (x *Index) Len(conversationID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.conversations[conversationID])
}

// IDs returns the known conversation ids in lexical order.
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]string, 0, len(x.conversations))
	for id := range x.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes one conversation.
func (x *Index) Clear(conversationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.conversations, conversationID)
}

// ClearAll removes every conversation.
func (x *Index) ClearAll() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.conversations = make(map[string][]*domain.Message)
}

func cloneList(msgs []*domain.Message) []*domain.Message {
	if msgs == nil {
		return nil
	}
	out := make([]*domain.Message, len(msgs))
	copy(out, msgs)
	return out
}
