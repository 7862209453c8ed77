package health

import "time"

// Status classifies a single check or a provider's current health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusOffline   Status = "offline"
	StatusUnknown   Status = "unknown"
)

// CheckResult is the immutable outcome of one probe.
type CheckResult struct {
	ProviderID   string        `json:"provider_id"`
	ProviderType string        `json:"provider_type"`
	Status       Status        `json:"status"`
	Latency      time.Duration `json:"latency"`
	Timestamp    time.Time     `json:"timestamp"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}

// ProviderMetrics is the derived health of one provider.
//
// Totals cover every check since the provider was registered. SuccessRate,
// UptimePercentage and the latency figures cover the checks still inside the
// retention window; latency is taken from successful checks only. With no
// retained checks SuccessRate falls back to the lifetime rate.
type ProviderMetrics struct {
	ProviderID          string        `json:"provider_id"`
	ProviderType        string        `json:"provider_type"`
	Status              Status        `json:"status"`
	TotalChecks         int64         `json:"total_checks"`
	SuccessfulChecks    int64         `json:"successful_checks"`
	FailedChecks        int64         `json:"failed_checks"`
	SuccessRate         float64       `json:"success_rate"`
	AvgLatency          time.Duration `json:"avg_latency"`
	MinLatency          time.Duration `json:"min_latency"`
	MaxLatency          time.Duration `json:"max_latency"`
	LastCheck           time.Time     `json:"last_check"`
	LastSuccess         time.Time     `json:"last_success"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	UptimePercentage    float64       `json:"uptime_percentage"`
}

// HasData reports whether the provider has been probed at least once.
func (m ProviderMetrics) HasData() bool {
	return m.TotalChecks > 0
}

// Target is a provider registered for probing.
type Target struct {
	ProviderID   string
	ProviderType string
	Enabled      bool
	Prober       Prober
}
