// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
)

// Repository defines the interface for persisting browser sessions,
// conversation snapshots and user preferences.
type Repository interface {
	// UpsertBrowserSession creates a browser session or refreshes its last_seen_at.
	UpsertBrowserSession(ctx context.Context, session *domain.BrowserSession) error

	// GetExpiredBrowserSessions returns sessions idle for longer than ttl.
	GetExpiredBrowserSessions(ctx context.Context, ttl time.Duration) ([]*domain.BrowserSession, error)

	// DeleteBrowserSession removes a session and every conversation stored for it.
	DeleteBrowserSession(ctx context.Context, userID, sessionID string) error

	// SaveConversation creates or replaces one conversation snapshot.
	SaveConversation(ctx context.Context, conv *domain.StoredConversation) error

	// GetConversation returns one snapshot, or nil when none is stored.
	GetConversation(ctx context.Context, sessionKey, conversationID string) (*domain.StoredConversation, error)

	// GetConversations returns the stored snapshots among conversationIDs.
	// Ids without a snapshot are omitted.
	GetConversations(ctx context.Context, sessionKey string, conversationIDs []string) ([]*domain.StoredConversation, error)

	// DeleteConversations removes snapshots by id.
	DeleteConversations(ctx context.Context, sessionKey string, conversationIDs []string) (int64, error)

	// DeleteSessionConversations removes every snapshot of a session.
	DeleteSessionConversations(ctx context.Context, sessionKey string) (int64, error)

	// GetPreference reads a per-user preference.
	GetPreference(ctx context.Context, userID, key string) (string, bool, error)

	// SetPreference writes a per-user preference.
	SetPreference(ctx context.Context, userID, key, value string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
