package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct {
	Repository
	saves int
}

func (f *failingRepo) SaveConversation(context.Context, *domain.StoredConversation) error {
	f.saves++
	return errors.New("disk full")
}

func (f *failingRepo) GetConversation(context.Context, string, string) (*domain.StoredConversation, error) {
	return nil, errors.New("disk gone")
}

func (f *failingRepo) GetConversations(context.Context, string, []string) ([]*domain.StoredConversation, error) {
	return nil, errors.New("database is locked")
}

func sampleConversation() []*domain.Message {
	return []*domain.Message{
		{Role: domain.RoleUser, Content: "how is my mesh?", Name: "User", Timestamp: "10/19/2026, 10:00:00 AM", ReferencedDocuments: []domain.ReferencedDocument{}},
		{
			Role:                domain.RoleBot,
			Content:             "Healthy.",
			Name:                "Kiali AI",
			Avatar:              "/bot.svg",
			Timestamp:           "10/19/2026, 10:00:02 AM",
			ReferencedDocuments: []domain.ReferencedDocument{{Link: "https://kiali.io/docs", Title: "Docs", Body: "x"}},
			Actions:             []domain.Action{{Kind: domain.ActionKindNavigation, Title: "View Mesh Graph", Payload: "/mesh"}},
		},
	}
}

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := NewGateway(newTestStore(t), "u:s", nil)

	msgs := sampleConversation()
	gw.Save(ctx, "c1", msgs)

	got, ok := gw.Load(ctx, "c1")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, *msgs[0], *got[0])
	assert.Equal(t, *msgs[1], *got[1])
	assert.NotNil(t, got[0].ReferencedDocuments)
	assert.Empty(t, got[0].ReferencedDocuments)
	assert.Nil(t, got[0].Actions)
}

func TestGatewayNeverWritesEmpty(t *testing.T) {
	ctx := context.Background()
	gw := NewGateway(newTestStore(t), "u:s", nil)

	gw.Save(ctx, "c1", nil)
	gw.Save(ctx, "c2", []*domain.Message{})

	_, ok := gw.Load(ctx, "c1")
	assert.False(t, ok)
	got, err := gw.LoadMany(ctx, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGatewayLoadManyOmitsAbsent(t *testing.T) {
	ctx := context.Background()
	gw := NewGateway(newTestStore(t), "u:s", nil)
	gw.Save(ctx, "a", sampleConversation())
	gw.Save(ctx, "b", sampleConversation()[:1])

	got, err := gw.LoadMany(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, got["b"], 1)
	_, present := got["missing"]
	assert.False(t, present)
}

func TestGatewayDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	gw := NewGateway(repo, "u:s", nil)
	other := NewGateway(repo, "u:t", nil)

	gw.Save(ctx, "a", sampleConversation())
	gw.Save(ctx, "b", sampleConversation())
	other.Save(ctx, "a", sampleConversation())

	gw.Delete(ctx, []string{"a"})
	_, ok := gw.Load(ctx, "a")
	assert.False(t, ok)
	_, ok = gw.Load(ctx, "b")
	assert.True(t, ok)

	gw.Clear(ctx)
	_, ok = gw.Load(ctx, "b")
	assert.False(t, ok)

	_, ok = other.Load(ctx, "a")
	assert.True(t, ok, "other sessions are untouched")
}

func TestGatewaySwallowsFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	repo := &failingRepo{}
	gw := NewGateway(repo, "u:s", nil)

	assert.NotPanics(t, func() { gw.Save(ctx, "c1", sampleConversation()) })
	assert.Equal(t, 1, repo.saves)

	_, ok := gw.Load(ctx, "c1")
	assert.False(t, ok)
}

func TestGatewayLoadManyReportsReadFailure(t *testing.T) {
	gw := NewGateway(&failingRepo{}, "u:s", nil)

	got, err := gw.LoadMany(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Empty(t, got)
}

func TestGatewayLoadManyReportsUndecodable(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	gw := NewGateway(repo, "u:s", nil)
	gw.Save(ctx, "good", sampleConversation())
	require.NoError(t, repo.SaveConversation(ctx, &domain.StoredConversation{
		SessionKey:     "u:s",
		ConversationID: "bad",
		MessagesJSON:   "{not json",
	}))

	got, err := gw.LoadMany(ctx, []string{"good", "bad"})
	require.ErrorIs(t, err, ErrUndecodable)
	assert.Contains(t, got, "good")
	assert.NotContains(t, got, "bad")
}
