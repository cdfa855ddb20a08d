// Package mockchat serves a deterministic stand-in for the Kiali chat API.
package mockchat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// SessionCookie scopes conversations to one client.
const SessionCookie = "kiali-chat-session"

// DefaultSlowDelay is how long a slow query stalls before answering.
const DefaultSlowDelay = 2 * time.Minute

// Config configures the mock backend.
type Config struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	SlowDelay         time.Duration
	Logger            *slog.Logger
}

// Server holds the per-session conversation ids the mock has seen.
type Server struct {
	mu        sync.Mutex
	sessions  map[string][]string
	limiter   *RateLimiter
	slowDelay time.Duration
	logger    *slog.Logger
}

type chatRequest struct {
	ConversationID string          `json:"conversation_id"`
	Query          string          `json:"query"`
	Context        json.RawMessage `json:"context,omitempty"`
}

// New creates a mock chat backend.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	slow := cfg.SlowDelay
	if slow <= 0 {
		slow = DefaultSlowDelay
	}
	return &Server{
		sessions:  make(map[string][]string),
		limiter:   NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		slowDelay: slow,
		logger:    logger,
	}
}

// Run drives background maintenance until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.limiter.Run(ctx)
}

// Router returns the HTTP routes of the mock.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.session)

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/{provider}/{model}/ai", s.handleQuery)
		r.Get("/conversations", s.handleList)
		r.Delete("/conversations", s.handleDelete)
	})
	return r
}

type ctxKey struct{}

// session assigns a session cookie to clients that do not carry one.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
			id = c.Value
		} else {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(r.Context())
	if !s.limiter.Allow(sessionID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation ID is required")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	s.remember(sessionID, req.ConversationID)
	s.logger.Debug("mock chat query",
		"session_id", sessionID,
		"conversation_id", req.ConversationID,
		"provider", chi.URLParam(r, "provider"),
		"model", chi.URLParam(r, "model"),
	)

	switch {
	case strings.Contains(req.Query, KeywordSlow):
		select {
		case <-time.After(s.slowDelay):
		case <-r.Context().Done():
			return
		}
	case strings.Contains(req.Query, KeywordFail):
		writeError(w, http.StatusInternalServerError, "provider failed to answer")
		return
	case strings.Contains(req.Query, KeywordAccepted):
		writeJSON(w, http.StatusAccepted, map[string]string{"error": "answer is still being generated"})
		return
	}

	writeJSON(w, http.StatusOK, buildAnswer(chi.URLParam(r, "model"), req.Query))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Conversations(sessionFrom(r.Context())))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("conversationIDs")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "conversationIDs is required")
		return
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	s.forget(sessionFrom(r.Context()), ids)
	w.WriteHeader(http.StatusNoContent)
}

// Conversations returns the ids recorded for a session in first-seen order.
func (s *Server) Conversations(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sessions[sessionID]))
	copy(out, s.sessions[sessionID])
	return out
}

// Seed records conversation ids for a session, as if they had been queried.
func (s *Server) Seed(sessionID string, ids ...string) {
	for _, id := range ids {
		s.remember(sessionID, id)
	}
}

// Sessions returns the ids of every session that has conversations.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

func (s *Server) remember(sessionID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.sessions[sessionID] {
		if id == conversationID {
			return
		}
	}
	s.sessions[sessionID] = append(s.sessions[sessionID], conversationID)
}

func (s *Server) forget(sessionID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var keep []string
	for _, id := range s.sessions[sessionID] {
		if !drop[id] {
			keep = append(keep, id)
		}
	}
	if len(keep) == 0 {
		delete(s.sessions, sessionID)
		return
	}
	s.sessions[sessionID] = keep
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode mock chat response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
