package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/meshchat/internal/domain"
)

// ErrUndecodable marks a stored conversation whose messages cannot be decoded.
var ErrUndecodable = errors.New("undecodable conversation")

// Gateway persists the conversations of one browser session.
//
// Failures are logged and swallowed: a conversation that cannot be saved
// stays usable in memory, and one that cannot be loaded is reported absent.
// LoadMany additionally returns the read error so callers can tell a failed
// read from missing content.
type Gateway struct {
	repo       Repository
	sessionKey string
	logger     *slog.Logger
}

// NewGateway binds a gateway to one session key.
func NewGateway(repo Repository, sessionKey string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		repo:       repo,
		sessionKey: sessionKey,
		logger:     logger.With("session_key", sessionKey),
	}
}

// SessionKey returns the session the gateway is bound to.
func (g *Gateway) SessionKey() string {
	return g.sessionKey
}

// Save writes the full message list of a conversation. Empty lists are
// never written.
func (g *Gateway) Save(ctx context.Context, conversationID string, msgs []*domain.Message) {
	if conversationID == "" || len(msgs) == 0 {
		return
	}
	payload, err := json.Marshal(msgs)
	if err != nil {
		g.logger.Warn("failed to encode conversation", "conversation_id", conversationID, "error", err)
		return
	}
	err = g.repo.SaveConversation(ctx, &domain.StoredConversation{
		SessionKey:     g.sessionKey,
		ConversationID: conversationID,
		MessagesJSON:   string(payload),
	})
	if err != nil {
		g.logger.Warn("failed to persist conversation", "conversation_id", conversationID, "error", err)
	}
}

// Load returns the persisted messages of a conversation.
func (g *Gateway) Load(ctx context.Context, conversationID string) ([]*domain.Message, bool) {
	stored, err := g.repo.GetConversation(ctx, g.sessionKey, conversationID)
	if err != nil {
		g.logger.Warn("failed to load conversation", "conversation_id", conversationID, "error", err)
		return nil, false
	}
	if stored == nil {
		return nil, false
	}
	msgs, ok, _ := g.decode(stored)
	return msgs, ok
}

// LoadMany loads several conversations at once. Ids without persisted
// content are omitted from the result. A non-nil error means some ids could
// not be read; their absence from the result says nothing about the store.
func (g *Gateway) LoadMany(ctx context.Context, conversationIDs []string) (map[string][]*domain.Message, error) {
	out := make(map[string][]*domain.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	stored, err := g.repo.GetConversations(ctx, g.sessionKey, conversationIDs)
	if err != nil {
		g.logger.Warn("failed to load conversations", "count", len(conversationIDs), "error", err)
		return out, fmt.Errorf("load conversations: %w", err)
	}
	var undecodable []string
	for _, s := range stored {
		msgs, ok, err := g.decode(s)
		if err != nil {
			undecodable = append(undecodable, s.ConversationID)
			continue
		}
		if ok {
			out[s.ConversationID] = msgs
		}
	}
	if len(undecodable) > 0 {
		return out, fmt.Errorf("decode conversations %s: %w", strings.Join(undecodable, ","), ErrUndecodable)
	}
	return out, nil
}

// Delete removes persisted conversations.
func (g *Gateway) Delete(ctx context.Context, conversationIDs []string) {
	if len(conversationIDs) == 0 {
		return
	}
	if _, err := g.repo.DeleteConversations(ctx, g.sessionKey, conversationIDs); err != nil {
		g.logger.Warn("failed to delete conversations", "count", len(conversationIDs), "error", err)
	}
}

// Clear removes every conversation persisted for the session.
func (g *Gateway) Clear(ctx context.Context) {
	n, err := g.repo.DeleteSessionConversations(ctx, g.sessionKey)
	if err != nil {
		g.logger.Warn("failed to clear session conversations", "error", err)
		return
	}
	g.logger.Debug("cleared session conversations", "deleted", n)
}

func (g *Gateway) decode(stored *domain.StoredConversation) ([]*domain.Message, bool, error) {
	var msgs []*domain.Message
	if err := json.Unmarshal([]byte(stored.MessagesJSON), &msgs); err != nil {
		g.logger.Warn("discarding undecodable conversation", "conversation_id", stored.ConversationID, "error", err)
		return nil, false, err
	}
	if len(msgs) == 0 {
		return nil, false, nil
	}
	return msgs, true, nil
}
