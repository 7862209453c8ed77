package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/api/models"
	"github.com/voxgate/voxgate/internal/api/response"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
	"github.com/voxgate/voxgate/internal/provider/resilience"
)

// BreakerControl is the breaker surface served over HTTP.
// *orchestrator.Orchestrator implements it.
type BreakerControl interface {
	AllCircuitBreakerStatus() []resilience.Status
	CircuitBreakerStatus(providerID string) (resilience.Status, error)
	ResetCircuitBreaker(providerID string) error
	ForceOpenCircuitBreaker(providerID string) error
}

// BreakerHandler serves provider circuit breakers.
type BreakerHandler struct {
	breakers BreakerControl
}

// NewBreakerHandler creates a BreakerHandler.
func NewBreakerHandler(breakers BreakerControl) *BreakerHandler {
	return &BreakerHandler{breakers: breakers}
}

// List handles GET /v1/breakers.
func (h *BreakerHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.breakers.AllCircuitBreakerStatus()

	list := models.BreakerStatusList{Items: make([]models.BreakerStatus, 0, len(all))}
	for _, s := range all {
		list.Items = append(list.Items, models.NewBreakerStatus(s))
	}
	response.JSON(w, r, http.StatusOK, list)
}

// Get handles GET /v1/breakers/{providerId}.
func (h *BreakerHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.breakers.CircuitBreakerStatus(chi.URLParam(r, "providerId"))
	if err != nil {
		writeBreakerError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewBreakerStatus(status))
}

// Reset handles POST /v1/breakers/{providerId}/reset.
func (h *BreakerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "reset", h.breakers.ResetCircuitBreaker)
}

// ForceOpen handles POST /v1/breakers/{providerId}/open.
func (h *BreakerHandler) ForceOpen(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "force_open", h.breakers.ForceOpenCircuitBreaker)
}

func (h *BreakerHandler) control(w http.ResponseWriter, r *http.Request, action string, apply func(string) error) {
	providerID := chi.URLParam(r, "providerId")
	if err := apply(providerID); err != nil {
		writeBreakerError(w, r, err)
		return
	}

	if op := middleware.GetOperator(r.Context()); op != nil {
		w.Header().Set("X-Operator", op.Subject)
	}
	w.Header().Set("X-Breaker-Action", action)

	status, err := h.breakers.CircuitBreakerStatus(providerID)
	if err != nil {
		writeBreakerError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewBreakerStatus(status))
}

func writeBreakerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownProvider), errors.Is(err, resilience.ErrUnknownProvider):
		response.NotFound(w, r, err.Error())
	case errors.Is(err, orchestrator.ErrBreakersDisabled):
		response.Conflict(w, r, "circuit breakers are disabled")
	default:
		response.InternalError(w, r, "breaker operation failed")
	}
}
