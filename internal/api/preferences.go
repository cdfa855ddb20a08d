package api

import (
	"net/http"

	"github.com/ashureev/meshchat/internal/identity"
	"github.com/go-chi/chi/v5"
)

// PreferencesHandler serves per-device preferences.
type PreferencesHandler struct {
	*Handler
}

// NewPreferencesHandler creates a preferences handler.
func NewPreferencesHandler(base *Handler) *PreferencesHandler {
	return &PreferencesHandler{Handler: base}
}

type alwaysNavigatePayload struct {
	Enabled *bool `json:"enabled"`
}

// RegisterRoutes registers preference routes.
func (h *PreferencesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/preferences/always-navigate", h.GetAlwaysNavigate)
	r.Put("/api/preferences/always-navigate", h.SetAlwaysNavigate)
}

// GetAlwaysNavigate returns the auto-navigation preference.
func (h *PreferencesHandler) GetAlwaysNavigate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	enabled, err := h.reg.Preferences().AlwaysNavigate(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read preference")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// SetAlwaysNavigate stores the auto-navigation preference.
func (h *PreferencesHandler) SetAlwaysNavigate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req alwaysNavigatePayload
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		Error(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.reg.Preferences().SetAlwaysNavigate(r.Context(), userID, *req.Enabled); err != nil {
		Error(w, http.StatusInternalServerError, "failed to store preference")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}
