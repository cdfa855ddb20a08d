// Package workspace wires the per-browser-session chat components together.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/meshchat/internal/conversation"
	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/events"
	"github.com/ashureev/meshchat/internal/history"
	"github.com/ashureev/meshchat/internal/identity"
	"github.com/ashureev/meshchat/internal/session"
	"github.com/ashureev/meshchat/internal/store"
	"github.com/ashureev/meshchat/internal/transport"
)

// refreshTimeout bounds the background refresh after a completed turn.
const refreshTimeout = 30 * time.Second

// Settings are the chat settings shared by every workspace.
type Settings struct {
	APIURL         string
	APIToken       string
	Provider       string
	Model          string
	RequestTimeout time.Duration
	RateLimitGrace time.Duration
	SlowNotice     time.Duration
	MockAPI        bool
	BotName        string
	BotAvatar      string
	UserAvatar     string
}

// Workspace holds the chat state of one browser session.
type Workspace struct {
	UserID    string
	SessionID string

	Index      *conversation.Index
	Gateway    *store.Gateway
	Client     *transport.Client
	Manager    *session.Manager
	Controller *history.Controller
	Hub        *events.Hub

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// Key returns the session key of the workspace.
func (w *Workspace) Key() string {
	return domain.SessionKey(w.UserID, w.SessionID)
}

// Notify implements session.Observer. Events go to the hub, and a completed
// turn refreshes the history list.
func (w *Workspace) Notify(e session.Event) {
	w.Hub.Notify(e)
	if e.Type == session.EventTurnComplete && e.ConversationID != "" {
		w.Controller.Track(e.ConversationID)
		go w.refresh()
	}
}

func (w *Workspace) refresh() {
	ctx, cancel := context.WithTimeout(w.ctx, refreshTimeout)
	defer cancel()
	if err := w.Controller.Refresh(ctx); err != nil && w.ctx.Err() == nil {
		w.logger.Warn("history refresh failed", "error", err)
	}
}

// Registry creates and looks up workspaces by browser session.
type Registry struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
	repo       store.Repository
	prefs      *store.Preferences
	settings   Settings
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(repo store.Repository, settings Settings, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		workspaces: make(map[string]*Workspace),
		repo:       repo,
		prefs:      store.NewPreferences(repo),
		settings:   settings,
		logger:     logger,
	}
}

// Get returns the workspace of a browser session, creating it on first use.
func (r *Registry) Get(userID, sessionID string) (*Workspace, error) {
	key := domain.SessionKey(userID, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.workspaces[key]; ok {
		return ws, nil
	}

	ws, err := r.build(userID, sessionID)
	if err != nil {
		return nil, err
	}
	r.workspaces[key] = ws
	r.logger.Info("Workspace created", "user_id", userID, "session_id", sessionID)
	return ws, nil
}

// Lookup returns an existing workspace without creating one.
func (r *Registry) Lookup(userID, sessionID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[domain.SessionKey(userID, sessionID)]
	return ws, ok
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Preferences returns the shared preference accessor.
func (r *Registry) Preferences() *store.Preferences {
	return r.prefs
}

// Subscribe implements events.Source.
func (r *Registry) Subscribe(userID, sessionID string) (<-chan session.Event, session.State, func(), error) {
	ws, err := r.Get(userID, sessionID)
	if err != nil {
		return nil, session.State{}, nil, err
	}
	ch, unsubscribe := ws.Hub.Subscribe(events.DefaultBuffer)
	return ch, ws.Manager.State(), unsubscribe, nil
}

// Close tears down one workspace: in-flight turns are dropped, the index is
// emptied, persisted conversations are deleted and event streams end.
func (r *Registry) Close(ctx context.Context, userID, sessionID string) bool {
	key := domain.SessionKey(userID, sessionID)

	r.mu.Lock()
	ws, ok := r.workspaces[key]
	delete(r.workspaces, key)
	r.mu.Unlock()

	if !ok {
		return false
	}
	ws.teardown(ctx)
	r.logger.Info("Workspace closed", "user_id", userID, "session_id", sessionID)
	return true
}

// CloseAll tears down every workspace without deleting persisted data.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range all {
		ws.cancel()
		ws.Manager.Unmount()
		ws.Hub.Close()
	}
}

func (w *Workspace) teardown(ctx context.Context) {
	w.cancel()
	w.Manager.Unmount()
	w.Index.ClearAll()
	w.Gateway.Clear(ctx)
	w.Hub.Close()
}

func (r *Registry) build(userID, sessionID string) (*Workspace, error) {
	logger := r.logger.With("user_id", userID, "session_id", sessionID)

	client, err := transport.NewClient(transport.Options{
		BaseURL: r.settings.APIURL,
		Token:   r.settings.APIToken,
		Timeout: r.settings.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &Workspace{
		UserID:    userID,
		SessionID: sessionID,
		Index:     conversation.NewIndex(),
		Client:    client,
		Hub:       events.NewHub(logger),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	ws.Gateway = store.NewGateway(r.repo, ws.Key(), logger)
	ws.Controller = history.NewController(client, ws.Gateway, ws.Index, logger)
	ws.Manager = session.New(ws.Index, ws.Gateway, client, session.Options{
		Provider:       r.settings.Provider,
		Model:          r.settings.Model,
		MockMode:       r.settings.MockAPI,
		BotName:        r.settings.BotName,
		BotAvatar:      r.settings.BotAvatar,
		UserName:       identity.DeriveUsername(userID),
		UserAvatar:     r.settings.UserAvatar,
		RateLimitGrace: r.settings.RateLimitGrace,
		SlowNotice:     r.settings.SlowNotice,
		AlwaysNavigate: func(ctx context.Context) bool {
			on, err := r.prefs.AlwaysNavigate(ctx, userID)
			if err != nil {
				logger.Warn("failed to read always-navigate preference", "error", err)
			}
			return on
		},
		Navigator: session.NavigatorFunc(func(path string) {
			logger.Info("auto-navigating", "path", path)
		}),
		Observer: ws,
		Logger:   logger,
	})
	return ws, nil
}
