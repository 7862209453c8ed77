package health

import (
	"fmt"
	"time"
)

// maxInitialHistoryCapacity caps the up-front allocation of a provider's ring
// so a tiny check interval combined with a long retention does not reserve
// memory before any check runs. The ring grows past it on demand.
const maxInitialHistoryCapacity = 20000

// Config holds the probe cycle tunables.
type Config struct {
	// CheckInterval is the period between probe cycles.
	// Default: 30 seconds
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// Timeout bounds each individual probe.
	// Default: 10 seconds
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxConsecutiveFailures marks a provider offline once reached.
	// Default: 3
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// LatencyWarningThreshold marks a successful check as degraded.
	// Default: 1000ms
	LatencyWarningThreshold time.Duration `json:"latency_warning_threshold" yaml:"latency_warning_threshold"`

	// LatencyErrorThreshold marks a successful check as unhealthy.
	// Default: 3000ms
	LatencyErrorThreshold time.Duration `json:"latency_error_threshold" yaml:"latency_error_threshold"`

	// HistoryRetention is how long check results are kept.
	// Default: 24 hours
	HistoryRetention time.Duration `json:"history_retention" yaml:"history_retention"`
}

// DefaultConfig returns the default probe cycle configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:           30 * time.Second,
		Timeout:                 10 * time.Second,
		MaxConsecutiveFailures:  3,
		LatencyWarningThreshold: 1000 * time.Millisecond,
		LatencyErrorThreshold:   3000 * time.Millisecond,
		HistoryRetention:        24 * time.Hour,
	}
}

// Validate reports whether the configuration can drive a monitor.
func (c Config) Validate() error {
	switch {
	case c.CheckInterval <= 0:
		return fmt.Errorf("%w: check interval must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	case c.MaxConsecutiveFailures <= 0:
		return fmt.Errorf("%w: max consecutive failures must be positive", ErrInvalidConfig)
	case c.LatencyWarningThreshold <= 0 || c.LatencyErrorThreshold <= 0:
		return fmt.Errorf("%w: latency thresholds must be positive", ErrInvalidConfig)
	case c.LatencyWarningThreshold > c.LatencyErrorThreshold:
		return fmt.Errorf("%w: latency warning threshold exceeds error threshold", ErrInvalidConfig)
	case c.HistoryRetention <= 0:
		return fmt.Errorf("%w: history retention must be positive", ErrInvalidConfig)
	}
	return nil
}

// historyCapacity is the initial size of a provider's ring: one retention
// window of scheduled checks plus a quarter of headroom for CheckNow bursts.
func (c Config) historyCapacity() int {
	perWindow := int(c.HistoryRetention / c.CheckInterval)
	capacity := perWindow + perWindow/4 + 1
	if capacity > maxInitialHistoryCapacity {
		return maxInitialHistoryCapacity
	}
	return capacity
}
