package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/session"
	"github.com/go-chi/chi/v5"
)

const refreshTimeout = 30 * time.Second

// ChatHandler exposes the conversation session of a browser tab.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Post("/messages", h.SendMessage)
		r.Post("/new", h.NewChat)
		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations/{id}/select", h.SelectConversation)
		r.Put("/model", h.SelectModel)
		r.Delete("/alert", h.ClearAlert)
		r.Post("/panel/open", h.OpenPanel)
		r.Post("/panel/close", h.ClosePanel)
	})
}

type sendMessageRequest struct {
	Query       string          `json:"query"`
	PromptLabel string          `json:"prompt_label,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
}

type sendMessageResponse struct {
	ConversationID string        `json:"conversation_id"`
	State          session.State `json:"state"`
}

type selectModelRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type conversationsResponse struct {
	Entries []domain.Entry `json:"entries"`
}

type panelResponse struct {
	State   session.State  `json:"state"`
	Entries []domain.Entry `json:"entries"`
}

// GetSession returns the active conversation state.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ws.Manager.State())
}

// SendMessage starts a turn. The user message is appended before the
// response is written; the answer arrives over the event stream.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}

	turn := ws.Manager.SendQuery(r.Context(), session.Query{
		Text:        req.Query,
		Context:     req.Context,
		PromptLabel: req.PromptLabel,
	})
	JSON(w, http.StatusAccepted, sendMessageResponse{
		ConversationID: turn.ConversationID,
		State:          ws.Manager.State(),
	})
}

// NewChat resets the active conversation.
func (h *ChatHandler) NewChat(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.Manager.NewChat(r.Context())
	ws.Controller.Update()
	JSON(w, http.StatusOK, ws.Manager.State())
}

// ListConversations returns the history list, optionally refreshed from the
// backend and filtered by ?search=.
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("refresh") == "true" {
		ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
		defer cancel()
		if err := ws.Controller.Refresh(ctx); err != nil {
			slog.Warn("Conversation refresh failed", "error", err, "user_id", ws.UserID, "session_id", ws.SessionID)
			Error(w, http.StatusBadGateway, "failed to load conversations")
			return
		}
	}

	JSON(w, http.StatusOK, conversationsResponse{Entries: ws.Controller.Search(r.URL.Query().Get("search"))})
}

// SelectConversation switches the active conversation.
func (h *ChatHandler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := ws.Manager.SelectConversation(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrConversationNotFound) {
			Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to select conversation")
		return
	}
	JSON(w, http.StatusOK, ws.Manager.State())
}

// SelectModel switches provider and model, resetting the active conversation.
func (h *ChatHandler) SelectModel(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req selectModelRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Provider == "" || req.Model == "" {
		Error(w, http.StatusBadRequest, "provider and model are required")
		return
	}

	ws.Manager.SelectModel(r.Context(), req.Provider, req.Model)
	ws.Controller.Update()
	JSON(w, http.StatusOK, ws.Manager.State())
}

// ClearAlert dismisses the current alert.
func (h *ChatHandler) ClearAlert(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.Manager.ClearAlert()
	w.WriteHeader(http.StatusNoContent)
}

// OpenPanel mounts the session and rebuilds the history list.
func (h *ChatHandler) OpenPanel(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	ws.Manager.Mount()
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()
	if err := ws.Controller.Refresh(ctx); err != nil {
		slog.Warn("Conversation refresh failed", "error", err, "user_id", ws.UserID, "session_id", ws.SessionID)
	}

	JSON(w, http.StatusOK, panelResponse{
		State:   ws.Manager.State(),
		Entries: ws.Controller.Entries(),
	})
}

// ClosePanel unmounts the session; in-flight turns are dropped.
func (h *ChatHandler) ClosePanel(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.Manager.Unmount()
	w.WriteHeader(http.StatusNoContent)
}
