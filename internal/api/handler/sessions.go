package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/voxgate/voxgate/internal/api/models"
	"github.com/voxgate/voxgate/internal/api/response"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

// maxSelectionLimit bounds the selections returned in one response.
const maxSelectionLimit = 1000

// SessionRouter is the session surface served over HTTP.
// *orchestrator.Orchestrator implements it.
type SessionRouter interface {
	SessionProvider(sessionID string) (string, bool)
	SwitchHistory(sessionID string) []orchestrator.ProviderSwitchEvent
	SwitchSessionProvider(ctx context.Context, sessionID, providerID, reason string) orchestrator.ProviderSwitchEvent
	PerformFailover(ctx context.Context, sessionID string) orchestrator.ProviderSwitchEvent
	SelectionHistory(limit int) []orchestrator.ProviderSelection
}

// SessionHandler serves session bindings, switches and the selection log.
type SessionHandler struct {
	sessions SessionRouter
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionRouter) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Binding handles GET /v1/sessions/{sessionId}.
func (h *SessionHandler) Binding(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	providerID, ok := h.sessions.SessionProvider(sessionID)
	if !ok {
		response.NotFound(w, r, "session "+sessionID+" is not bound to a provider")
		return
	}
	response.JSON(w, r, http.StatusOK, models.SessionBinding{SessionID: sessionID, ProviderID: providerID})
}

// Switches handles GET /v1/sessions/{sessionId}/switches.
func (h *SessionHandler) Switches(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	items := h.sessions.SwitchHistory(sessionID)
	if items == nil {
		items = []orchestrator.ProviderSwitchEvent{}
	}
	response.JSON(w, r, http.StatusOK, models.SwitchList{SessionID: sessionID, Items: items})
}

// Switch handles POST /v1/sessions/{sessionId}/switch.
func (h *SessionHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var req models.SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body")
		return
	}
	if req.ProviderID == "" {
		response.BadRequest(w, r, "providerId is required")
		return
	}

	ev := h.sessions.SwitchSessionProvider(r.Context(), chi.URLParam(r, "sessionId"), req.ProviderID, req.Reason)
	if !ev.Success {
		response.Conflict(w, r, ev.Error)
		return
	}
	response.JSON(w, r, http.StatusOK, ev)
}

// Failover handles POST /v1/sessions/{sessionId}/failover. A failover that
// found no alternative is still a 200; the event carries Success false.
func (h *SessionHandler) Failover(w http.ResponseWriter, r *http.Request) {
	ev := h.sessions.PerformFailover(r.Context(), chi.URLParam(r, "sessionId"))
	response.JSON(w, r, http.StatusOK, ev)
}

// Selections handles GET /v1/selections?limit=N.
func (h *SessionHandler) Selections(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSelectionLimit)
	}

	items := h.sessions.SelectionHistory(limit)
	if items == nil {
		items = []orchestrator.ProviderSelection{}
	}
	response.JSON(w, r, http.StatusOK, models.SelectionList{Items: items})
}
