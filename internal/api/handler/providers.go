package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/voxgate/voxgate/internal/api/models"
	"github.com/voxgate/voxgate/internal/api/response"
	"github.com/voxgate/voxgate/internal/provider/health"
)

// HealthMonitor is the monitor surface served over HTTP.
// *health.Monitor implements it.
type HealthMonitor interface {
	ProviderHealth(providerID string) (health.ProviderMetrics, bool)
	AllProvidersHealth() map[string]health.ProviderMetrics
	HealthyProviders() []string
	History(providerID string) ([]health.CheckResult, error)
	CheckNow(ctx context.Context) []health.CheckResult
	SetEnabled(providerID string, enabled bool) error
}

// ProviderHandler serves provider health.
type ProviderHandler struct {
	monitor HealthMonitor
}

// NewProviderHandler creates a ProviderHandler.
func NewProviderHandler(monitor HealthMonitor) *ProviderHandler {
	return &ProviderHandler{monitor: monitor}
}

// List handles GET /v1/providers.
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.monitor.AllProvidersHealth()

	list := models.ProviderHealthList{Items: make([]models.ProviderHealth, 0, len(all))}
	for _, m := range all {
		list.Items = append(list.Items, models.NewProviderHealth(m))
	}
	sort.Slice(list.Items, func(i, j int) bool {
		return list.Items[i].ProviderID < list.Items[j].ProviderID
	})
	response.JSON(w, r, http.StatusOK, list)
}

// Healthy handles GET /v1/providers/healthy.
func (h *ProviderHandler) Healthy(w http.ResponseWriter, r *http.Request) {
	ids := h.monitor.HealthyProviders()
	if ids == nil {
		ids = []string{}
	}
	response.JSON(w, r, http.StatusOK, models.HealthyProviders{ProviderIDs: ids})
}

// Get handles GET /v1/providers/{providerId}.
func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")

	m, ok := h.monitor.ProviderHealth(providerID)
	if !ok {
		response.NotFound(w, r, "provider "+providerID+" is not monitored")
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewProviderHealth(m))
}

// History handles GET /v1/providers/{providerId}/history.
func (h *ProviderHandler) History(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")

	results, err := h.monitor.History(providerID)
	if errors.Is(err, health.ErrUnknownProvider) {
		response.NotFound(w, r, "provider "+providerID+" is not monitored")
		return
	}
	if err != nil {
		response.InternalError(w, r, "failed to read check history")
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewCheckHistory(providerID, results))
}

// ProbeNow handles POST /v1/probes. It runs one probe cycle and waits for it.
func (h *ProviderHandler) ProbeNow(w http.ResponseWriter, r *http.Request) {
	results := h.monitor.CheckNow(r.Context())

	run := models.ProbeRun{Probed: len(results), Results: make([]models.CheckResult, 0, len(results))}
	for _, res := range results {
		run.Results = append(run.Results, models.NewCheckResult(res))
	}
	response.JSON(w, r, http.StatusOK, run)
}

// Enable handles POST /v1/providers/{providerId}/enable.
func (h *ProviderHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles POST /v1/providers/{providerId}/disable. The provider keeps
// its metrics but is skipped by later cycles.
func (h *ProviderHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *ProviderHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	providerID := chi.URLParam(r, "providerId")

	err := h.monitor.SetEnabled(providerID, enabled)
	if errors.Is(err, health.ErrUnknownProvider) {
		response.NotFound(w, r, "provider "+providerID+" is not monitored")
		return
	}
	if err != nil {
		response.InternalError(w, r, "failed to update provider monitoring")
		return
	}
	response.JSON(w, r, http.StatusOK, models.ProviderMonitoring{ProviderID: providerID, Enabled: enabled})
}
