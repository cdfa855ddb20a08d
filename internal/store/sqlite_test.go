package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "meshchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteConversationUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	conv := &domain.StoredConversation{SessionKey: "u:s", ConversationID: "c1", MessagesJSON: `[{"content":"a"}]`}
	require.NoError(t, repo.SaveConversation(ctx, conv))

	conv.MessagesJSON = `[{"content":"b"}]`
	require.NoError(t, repo.SaveConversation(ctx, conv))

	got, err := repo.GetConversation(ctx, "u:s", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `[{"content":"b"}]`, got.MessagesJSON)

	missing, err := repo.GetConversation(ctx, "u:s", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteConversationsScopedBySession(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	require.NoError(t, repo.SaveConversation(ctx, &domain.StoredConversation{SessionKey: "u:a", ConversationID: "c1", MessagesJSON: "[]"}))
	require.NoError(t, repo.SaveConversation(ctx, &domain.StoredConversation{SessionKey: "u:a", ConversationID: "c2", MessagesJSON: "[]"}))
	require.NoError(t, repo.SaveConversation(ctx, &domain.StoredConversation{SessionKey: "u:b", ConversationID: "c3", MessagesJSON: "[]"}))

	got, err := repo.GetConversations(ctx, "u:a", []string{"c1", "c2", "c3", "c4"})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ConversationID)
	}
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)

	n, err := repo.DeleteConversations(ctx, "u:a", []string{"c1", "c3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteSessionConversations(ctx, "u:a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	other, err := repo.GetConversation(ctx, "u:b", "c3")
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestSQLiteExpiredBrowserSessions(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	now := time.Now()
	require.NoError(t, repo.UpsertBrowserSession(ctx, &domain.BrowserSession{UserID: "u", SessionID: "old", LastSeenAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, repo.UpsertBrowserSession(ctx, &domain.BrowserSession{UserID: "u", SessionID: "fresh", LastSeenAt: now}))
	require.NoError(t, repo.SaveConversation(ctx, &domain.StoredConversation{SessionKey: domain.SessionKey("u", "old"), ConversationID: "c", MessagesJSON: "[]"}))

	expired, err := repo.GetExpiredBrowserSessions(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].SessionID)

	require.NoError(t, repo.DeleteBrowserSession(ctx, "u", "old"))

	conv, err := repo.GetConversation(ctx, domain.SessionKey("u", "old"), "c")
	require.NoError(t, err)
	assert.Nil(t, conv)

	expired, err = repo.GetExpiredBrowserSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestSQLiteUpsertBrowserSessionRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.UpsertBrowserSession(ctx, &domain.BrowserSession{UserID: "u", SessionID: "s", LastSeenAt: old}))
	require.NoError(t, repo.UpsertBrowserSession(ctx, &domain.BrowserSession{UserID: "u", SessionID: "s", LastSeenAt: time.Now()}))

	expired, err := repo.GetExpiredBrowserSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestPreferencesAlwaysNavigate(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(newTestStore(t))

	on, err := prefs.AlwaysNavigate(ctx, "u")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, prefs.SetAlwaysNavigate(ctx, "u", true))
	on, err = prefs.AlwaysNavigate(ctx, "u")
	require.NoError(t, err)
	assert.True(t, on)

	other, err := prefs.AlwaysNavigate(ctx, "someone-else")
	require.NoError(t, err)
	assert.False(t, other)
}
