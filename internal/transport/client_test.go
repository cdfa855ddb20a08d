package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/mockchat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockBackend(t *testing.T, cfg mockchat.Config) (*mockchat.Server, *httptest.Server) {
	t.Helper()
	mock := mockchat.New(cfg)
	srv := httptest.NewServer(mock.Router())
	t.Cleanup(srv.Close)
	return mock, srv
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: baseURL, Timeout: timeout})
	require.NoError(t, err)
	return c
}

func TestSendQuerySuccess(t *testing.T) {
	_, srv := newMockBackend(t, mockchat.Config{})
	c := newTestClient(t, srv.URL, time.Second)

	reply, err := c.SendQuery(context.Background(), "openai", "gpt-4o", Request{ConversationID: "c1", Query: "open the graph"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, reply.StatusCode)
	require.NotNil(t, reply.Answer)
	assert.Equal(t, "Your mesh is healthy & serving traffic.", reply.Answer.Answer)
	require.Len(t, reply.Answer.Actions, 1)
	assert.Equal(t, domain.ActionKindNavigation, reply.Answer.Actions[0].Kind)
	require.NotNil(t, reply.Answer.UsedModels)
	assert.Equal(t, "gpt-4o", reply.Answer.UsedModels.CompletionModel)
}

func TestSendQueryNon200Success(t *testing.T) {
	_, srv := newMockBackend(t, mockchat.Config{})
	c := newTestClient(t, srv.URL, time.Second)

	reply, err := c.SendQuery(context.Background(), "openai", "gpt-4o", Request{ConversationID: "c1", Query: mockchat.KeywordAccepted})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, reply.StatusCode)
	assert.Nil(t, reply.Answer)
	assert.Equal(t, "answer is still being generated", reply.ErrorText)
}

func TestSendQueryRateLimited(t *testing.T) {
	_, srv := newMockBackend(t, mockchat.Config{RateLimitRequests: 1, RateLimitWindow: time.Minute})
	c := newTestClient(t, srv.URL, time.Second)

	_, err := c.SendQuery(context.Background(), "openai", "gpt-4o", Request{ConversationID: "c1", Query: "hi"})
	require.NoError(t, err)

	_, err = c.SendQuery(context.Background(), "openai", "gpt-4o", Request{ConversationID: "c1", Query: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrTimeout)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusTooManyRequests, terr.StatusCode)
	assert.Equal(t, "rate limit exceeded", terr.Detail())
}

func TestSendQueryTimeout(t *testing.T) {
	_, srv := newMockBackend(t, mockchat.Config{SlowDelay: 5 * time.Second})
	c := newTestClient(t, srv.URL, 50*time.Millisecond)

	_, err := c.SendQuery(context.Background(), "openai", "gpt-4o", Request{ConversationID: "c1", Query: mockchat.KeywordSlow})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSendQueryGenericCarriesServerText(t *testing.T) {
	_, srv := newMockBackend(t, mockchat.Config{})
	c := newTestClient(t, srv.URL, time.Second)

	_, err := c.SendQuery(context.Background(), "openai", "gpt-4o", Request{ConversationID: "c1"})
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindGeneric, terr.Kind)
	assert.Equal(t, http.StatusBadRequest, terr.StatusCode)
	assert.Equal(t, "query is required", terr.Detail())
}

func TestSendQueryUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, time.Second)
	_, err := c.SendQuery(context.Background(), "openai", "gpt-4o", Request{ConversationID: "c1", Query: "hi"})
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindGeneric, terr.Kind)
}

func TestConversationsScopedByClientCookies(t *testing.T) {
	_, srv := newMockBackend(t, mockchat.Config{})
	ctx := context.Background()
	a := newTestClient(t, srv.URL, time.Second)
	b := newTestClient(t, srv.URL, time.Second)

	for _, id := range []string{"a1", "a2"} {
		_, err := a.SendQuery(ctx, "openai", "gpt-4o", Request{ConversationID: id, Query: "hi"})
		require.NoError(t, err)
	}
	_, err := b.SendQuery(ctx, "openai", "gpt-4o", Request{ConversationID: "b1", Query: "hi"})
	require.NoError(t, err)

	ids, err := a.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)

	require.NoError(t, a.DeleteConversations(ctx, []string{"a1"}))
	ids, err = a.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, ids)

	ids, err = b.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ids)
}

func TestBearerTokenIsSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{BaseURL: srv.URL, Token: "s3cret"})
	require.NoError(t, err)
	_, err = c.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", got)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}
