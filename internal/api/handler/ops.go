// Package handler provides the HTTP handlers of the ops API.
package handler

import (
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/api/models"
	"github.com/voxgate/voxgate/internal/api/response"
	"github.com/voxgate/voxgate/internal/events"
)

// MonitorState reports whether the health monitor is probing.
type MonitorState interface {
	Running() bool
}

// DispatcherStats reports switch event delivery counters.
type DispatcherStats interface {
	Stats() events.DispatcherStats
}

// OpsHandler serves liveness, readiness and event delivery status.
type OpsHandler struct {
	version    string
	buildTime  string
	monitor    MonitorState
	dispatcher DispatcherStats
}

// NewOpsHandler creates an OpsHandler. dispatcher may be nil.
func NewOpsHandler(version, buildTime string, monitor MonitorState, dispatcher DispatcherStats) *OpsHandler {
	return &OpsHandler{
		version:    version,
		buildTime:  buildTime,
		monitor:    monitor,
		dispatcher: dispatcher,
	}
}

// Liveness handles GET /v1/ops/health.
func (h *OpsHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Liveness{
		Status: models.ServiceStatusOK,
		Time:   time.Now().UTC(),
		Details: map[string]string{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// Readiness handles GET /v1/ops/ready. The service is ready once the health
// monitor is probing.
func (h *OpsHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil || !h.monitor.Running() {
		response.JSON(w, r, http.StatusServiceUnavailable, models.Liveness{
			Status:  models.ServiceStatusFail,
			Time:    time.Now().UTC(),
			Details: map[string]string{"monitor": "stopped"},
		})
		return
	}
	response.JSON(w, r, http.StatusOK, models.Liveness{
		Status: models.ServiceStatusOK,
		Time:   time.Now().UTC(),
	})
}

// EventStats handles GET /v1/events/stats.
func (h *OpsHandler) EventStats(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		response.JSON(w, r, http.StatusOK, models.DispatcherStatus{Enabled: false})
		return
	}
	stats := h.dispatcher.Stats()
	response.JSON(w, r, http.StatusOK, models.DispatcherStatus{Enabled: true, Stats: &stats})
}
