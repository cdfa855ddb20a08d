// Package api provides HTTP handlers for the chat session API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/meshchat/internal/identity"
	"github.com/ashureev/meshchat/internal/store"
	"github.com/ashureev/meshchat/internal/workspace"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	reg  *workspace.Registry
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, reg *workspace.Registry) *Handler {
	return &Handler{
		repo: repo,
		reg:  reg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// workspace resolves the workspace of the calling browser session.
func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	ws, err := h.reg.Get(userID, identity.SessionIDFromContext(r.Context()))
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to open chat session")
		return nil, false
	}
	return ws, true
}
