package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/identity"
	"github.com/ashureev/meshchat/internal/mockchat"
	"github.com/ashureev/meshchat/internal/session"
	"github.com/ashureev/meshchat/internal/store"
	"github.com/ashureev/meshchat/internal/workspace"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser    = "anon-user"
	testSession = "tab-1"
)

type testAPI struct {
	router http.Handler
	reg    *workspace.Registry
	repo   store.Repository
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	backend := httptest.NewServer(mockchat.New(mockchat.Config{}).Router())
	t.Cleanup(backend.Close)

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	reg := workspace.NewRegistry(repo, workspace.Settings{
		APIURL:         backend.URL,
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		RequestTimeout: 2 * time.Second,
		MockAPI:        true,
		BotName:        "Kiali AI",
	}, nil)
	t.Cleanup(reg.CloseAll)

	base := NewHandler(repo, reg)
	r := chi.NewRouter()
	NewHealthHandler(repo).RegisterHealth(r)
	NewChatHandler(base).RegisterRoutes(r)
	NewPreferencesHandler(base).RegisterRoutes(r)
	return &testAPI{router: r, reg: reg, repo: repo}
}

func (a *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req = req.WithContext(identity.WithIdentity(req.Context(), testUser, testSession))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (a *testAPI) waitIdle(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, ok := a.reg.Lookup(testUser, testSession)
	require.True(t, ok)
	require.Eventually(t, func() bool { return !ws.Manager.IsLoading() }, 5*time.Second, 10*time.Millisecond)
	return ws
}

func TestChatRequiresIdentity(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/chat/session", nil)
	w := httptest.NewRecorder()

	a.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetSessionStartsEmpty(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/chat/session", "")
	require.Equal(t, http.StatusOK, w.Code)

	st := decode[session.State](t, w)
	assert.Empty(t, st.ConversationID)
	assert.Empty(t, st.Messages)
	assert.False(t, st.Loading)
	assert.Equal(t, "openai", st.Provider)
	assert.Equal(t, "gpt-4o-mini", st.Model)
}

func TestSendMessageAppendsOptimistically(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/messages", `{"query":"show me the mesh graph"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode[sendMessageResponse](t, w)
	require.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, resp.ConversationID, resp.State.ConversationID)
	require.NotEmpty(t, resp.State.Messages)
	assert.Equal(t, domain.RoleUser, resp.State.Messages[0].Role)
	assert.Equal(t, "show me the mesh graph", resp.State.Messages[0].Content)

	ws := a.waitIdle(t)
	msgs := ws.Manager.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleBot, msgs[1].Role)
	assert.Equal(t, "Your mesh is healthy & serving traffic.", msgs[1].Content)
}

func TestSendMessageValidation(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/messages", `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"query is required"}`, w.Body.String())

	w = a.do(t, http.MethodPost, "/api/chat/messages", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromptLabelIsShownInsteadOfQuery(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/messages",
		`{"query":"explain workload reviews-v1","prompt_label":"Explain this workload","context":{"page":"workloads"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode[sendMessageResponse](t, w)
	require.NotEmpty(t, resp.State.Messages)
	assert.Equal(t, "Explain this workload", resp.State.Messages[0].Content)
	a.waitIdle(t)
}

func TestConversationsListAndSearch(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/messages", `{"query":"how is the reviews service"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[sendMessageResponse](t, w).ConversationID
	ws := a.waitIdle(t)
	require.Eventually(t, func() bool {
		entries := ws.Controller.Entries()
		return len(entries) == 1 && entries[0].ID == id
	}, 5*time.Second, 10*time.Millisecond)

	w = a.do(t, http.MethodGet, "/api/chat/conversations?refresh=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[conversationsResponse](t, w)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, id, list.Entries[0].ID)
	assert.Equal(t, "how is the reviews service", list.Entries[0].Text)

	w = a.do(t, http.MethodGet, "/api/chat/conversations?search=REVIEWS", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[conversationsResponse](t, w).Entries, 1)

	w = a.do(t, http.MethodGet, "/api/chat/conversations?search=nothing-like-this", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[conversationsResponse](t, w).Entries
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Placeholder)
	assert.Equal(t, domain.NoResultsText, entries[0].Text)
}

func TestSelectConversation(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/messages", `{"query":"first question"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	first := decode[sendMessageResponse](t, w).ConversationID
	a.waitIdle(t)

	w = a.do(t, http.MethodPost, "/api/chat/new", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[session.State](t, w).ConversationID)

	w = a.do(t, http.MethodPost, "/api/chat/conversations/"+first+"/select", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[session.State](t, w)
	assert.Equal(t, first, st.ConversationID)
	assert.Len(t, st.Messages, 2)

	w = a.do(t, http.MethodPost, "/api/chat/conversations/missing/select", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSelectModelResetsConversation(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/messages", `{"query":"hello"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	a.waitIdle(t)

	w = a.do(t, http.MethodPut, "/api/chat/model", `{"provider":"gemini","model":"gemini-2.5-pro"}`)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[session.State](t, w)
	assert.Empty(t, st.ConversationID)
	assert.Equal(t, "gemini", st.Provider)
	assert.Equal(t, "gemini-2.5-pro", st.Model)

	w = a.do(t, http.MethodPut, "/api/chat/model", `{"provider":"gemini"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailedTurnRaisesAlertThatCanBeCleared(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/messages", `{"query":"`+mockchat.KeywordFail+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	ws := a.waitIdle(t)

	alert := ws.Manager.Alert()
	require.NotNil(t, alert)
	assert.Equal(t, domain.AlertDanger, alert.Variant)

	w = a.do(t, http.MethodDelete, "/api/chat/alert", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, ws.Manager.Alert())
}

func TestPanelOpenAndClose(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/chat/panel/close", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	ws, ok := a.reg.Lookup(testUser, testSession)
	require.True(t, ok)
	assert.False(t, ws.Manager.Mounted())

	w = a.do(t, http.MethodPost, "/api/chat/panel/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ws.Manager.Mounted())
	resp := decode[panelResponse](t, w)
	assert.Empty(t, resp.Entries)
}

func TestAlwaysNavigatePreference(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/preferences/always-navigate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":false}`, w.Body.String())

	w = a.do(t, http.MethodPut, "/api/preferences/always-navigate", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	on, err := a.reg.Preferences().AlwaysNavigate(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, on)

	w = a.do(t, http.MethodPut, "/api/preferences/always-navigate", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	a.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
