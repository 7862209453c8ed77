// Package models defines the JSON bodies of the ops API.
package models

import (
	"time"

	"github.com/voxgate/voxgate/internal/events"
	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
	"github.com/voxgate/voxgate/internal/provider/resilience"
)

// ServiceStatus is the overall service state reported by /v1/ops endpoints.
type ServiceStatus string

const (
	ServiceStatusOK       ServiceStatus = "OK"
	ServiceStatusDegraded ServiceStatus = "DEGRADED"
	ServiceStatusFail     ServiceStatus = "FAIL"
)

// Liveness is the body of the liveness and readiness endpoints.
type Liveness struct {
	Status  ServiceStatus     `json:"status"`
	Time    time.Time         `json:"time"`
	Details map[string]string `json:"details,omitempty"`
}

// ProviderHealth is the health of one provider. Latencies are milliseconds.
type ProviderHealth struct {
	ProviderID          string        `json:"providerId"`
	ProviderType        string        `json:"providerType,omitempty"`
	Status              health.Status `json:"status"`
	TotalChecks         int64         `json:"totalChecks"`
	SuccessfulChecks    int64         `json:"successfulChecks"`
	FailedChecks        int64         `json:"failedChecks"`
	SuccessRate         float64       `json:"successRate"`
	UptimePercentage    float64       `json:"uptimePercentage"`
	AvgLatencyMs        float64       `json:"avgLatencyMs"`
	MinLatencyMs        float64       `json:"minLatencyMs"`
	MaxLatencyMs        float64       `json:"maxLatencyMs"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastCheck           *time.Time    `json:"lastCheck,omitempty"`
	LastSuccess         *time.Time    `json:"lastSuccess,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
}

// NewProviderHealth converts monitor metrics.
func NewProviderHealth(m health.ProviderMetrics) ProviderHealth {
	return ProviderHealth{
		ProviderID:          m.ProviderID,
		ProviderType:        m.ProviderType,
		Status:              m.Status,
		TotalChecks:         m.TotalChecks,
		SuccessfulChecks:    m.SuccessfulChecks,
		FailedChecks:        m.FailedChecks,
		SuccessRate:         m.SuccessRate,
		UptimePercentage:    m.UptimePercentage,
		AvgLatencyMs:        millis(m.AvgLatency),
		MinLatencyMs:        millis(m.MinLatency),
		MaxLatencyMs:        millis(m.MaxLatency),
		ConsecutiveFailures: m.ConsecutiveFailures,
		LastCheck:           optionalTime(m.LastCheck),
		LastSuccess:         optionalTime(m.LastSuccess),
		LastError:           m.LastError,
	}
}

// ProviderHealthList wraps every provider's health.
type ProviderHealthList struct {
	Items []ProviderHealth `json:"items"`
}

// HealthyProviders lists providers currently classified healthy.
type HealthyProviders struct {
	ProviderIDs []string `json:"providerIds"`
}

// CheckResult is one probe outcome.
type CheckResult struct {
	ProviderID string        `json:"providerId,omitempty"`
	Status     health.Status `json:"status"`
	Success    bool          `json:"success"`
	LatencyMs  float64       `json:"latencyMs"`
	Timestamp  time.Time     `json:"timestamp"`
	Error      string        `json:"error,omitempty"`
}

// CheckHistory is the retained probe history of one provider, oldest first.
type CheckHistory struct {
	ProviderID string        `json:"providerId"`
	Items      []CheckResult `json:"items"`
}

// NewCheckHistory converts monitor history.
func NewCheckHistory(providerID string, results []health.CheckResult) CheckHistory {
	h := CheckHistory{ProviderID: providerID, Items: make([]CheckResult, 0, len(results))}
	for _, r := range results {
		item := NewCheckResult(r)
		item.ProviderID = ""
		h.Items = append(h.Items, item)
	}
	return h
}

// NewCheckResult converts one probe outcome.
func NewCheckResult(r health.CheckResult) CheckResult {
	return CheckResult{
		ProviderID: r.ProviderID,
		Status:     r.Status,
		Success:    r.Success,
		LatencyMs:  millis(r.Latency),
		Timestamp:  r.Timestamp,
		Error:      r.Error,
	}
}

// ProbeRun reports an on-demand probe cycle.
type ProbeRun struct {
	Probed  int           `json:"probed"`
	Results []CheckResult `json:"results"`
}

// ProviderMonitoring reports whether a provider takes part in check cycles.
type ProviderMonitoring struct {
	ProviderID string `json:"providerId"`
	Enabled    bool   `json:"enabled"`
}

// BreakerStatus is the state of one provider breaker.
type BreakerStatus struct {
	ProviderID           string           `json:"providerId"`
	State                resilience.State `json:"state"`
	ConsecutiveFailures  int              `json:"consecutiveFailures"`
	ConsecutiveSuccesses int              `json:"consecutiveSuccesses"`
	OpenedAt             *time.Time       `json:"openedAt,omitempty"`
	RetryAfterMs         int64            `json:"retryAfterMs"`
	HalfOpenInFlight     int              `json:"halfOpenInFlight"`
	TotalCalls           uint64           `json:"totalCalls"`
	TotalFailures        uint64           `json:"totalFailures"`
	TotalRejections      uint64           `json:"totalRejections"`
	LastError            string           `json:"lastError,omitempty"`
}

// NewBreakerStatus converts a breaker snapshot.
func NewBreakerStatus(s resilience.Status) BreakerStatus {
	return BreakerStatus{
		ProviderID:           s.ProviderID,
		State:                s.State,
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		OpenedAt:             s.OpenedAt,
		RetryAfterMs:         s.RetryAfter.Milliseconds(),
		HalfOpenInFlight:     s.HalfOpenInFlight,
		TotalCalls:           s.TotalCalls,
		TotalFailures:        s.TotalFailures,
		TotalRejections:      s.TotalRejections,
		LastError:            s.LastError,
	}
}

// BreakerStatusList wraps every breaker's status.
type BreakerStatusList struct {
	Items []BreakerStatus `json:"items"`
}

// SelectionList is the recent selection log, oldest first.
type SelectionList struct {
	Items []orchestrator.ProviderSelection `json:"items"`
}

// SessionBinding is the provider a session is bound to.
type SessionBinding struct {
	SessionID  string `json:"sessionId"`
	ProviderID string `json:"providerId"`
}

// SwitchList is a session's switch log, oldest first.
type SwitchList struct {
	SessionID string                             `json:"sessionId"`
	Items     []orchestrator.ProviderSwitchEvent `json:"items"`
}

// SwitchRequest is the body of a manual session switch.
type SwitchRequest struct {
	ProviderID string `json:"providerId"`
	Reason     string `json:"reason,omitempty"`
}

// DispatcherStatus reports switch event delivery.
type DispatcherStatus struct {
	Enabled bool                    `json:"enabled"`
	Stats   *events.DispatcherStats `json:"stats,omitempty"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
