package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/meshchat/internal/identity"
	"github.com/ashureev/meshchat/internal/session"
	"github.com/coder/websocket"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// EventState is the type of the snapshot sent when a stream opens.
const EventState session.EventType = "state"

// Source resolves the event stream of a browser session.
type Source interface {
	Subscribe(userID, sessionID string) (<-chan session.Event, session.State, func(), error)
}

// Handler upgrades requests to a WebSocket event stream.
type Handler struct {
	source        Source
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket event handler.
func NewHandler(source Source, allowedOrigin string, isDev bool) *Handler {
	return &Handler{source: source, allowedOrigin: allowedOrigin, isDev: isDev}
}

type stateFrame struct {
	Type  session.EventType `json:"type"`
	State session.State     `json:"state"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" || sessionID == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	events, snapshot, unsubscribe, err := h.source.Subscribe(userID, sessionID)
	if err != nil {
		slog.Error("Failed to subscribe to session events", "error", err, "user_id", userID, "session_id", sessionID)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	defer unsubscribe()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	slog.Info("Event stream opened", "user_id", userID, "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := writeJSON(ctx, ws, stateFrame{Type: EventState, State: snapshot}); err != nil {
		slog.Debug("Failed to send initial state", "error", err, "user_id", userID)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, userID)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, events, userID)
	}()

	wg.Wait()
	slog.Info("Event stream closed", "user_id", userID, "session_id", sessionID)
}

// readLoop drains client frames so close and pong frames are processed.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Debug("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, events <-chan session.Event, userID string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, e); err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", userID)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
