package orchestrator

import (
	"fmt"
	"slices"

	"github.com/voxgate/voxgate/internal/provider/resilience"
)

// Strategy selects one provider among the eligible candidates.
type Strategy string

const (
	// StrategyBestPerformance picks the lowest average latency.
	StrategyBestPerformance Strategy = "best_performance"
	// StrategyHighestAvailability picks the highest uptime.
	StrategyHighestAvailability Strategy = "highest_availability"
	// StrategyRoundRobin rotates through candidates across calls.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyPriorityList picks the lowest priority rank.
	StrategyPriorityList Strategy = "priority_list"
	// StrategyRandom draws by configured weight.
	StrategyRandom Strategy = "random"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{
	StrategyBestPerformance,
	StrategyHighestAvailability,
	StrategyRoundRobin,
	StrategyPriorityList,
	StrategyRandom,
}

// ParseStrategy converts a configured name into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(name)
	if !slices.Contains(Strategies, s) {
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, name)
	}
	return s, nil
}

// ProviderPreference is the static configuration of one provider. The order
// of preferences is the fallback chain.
type ProviderPreference struct {
	ProviderID   string   `json:"provider_id" yaml:"provider_id"`
	ProviderType string   `json:"provider_type" yaml:"provider_type"`
	Priority     int      `json:"priority" yaml:"priority"`
	Weight       float64  `json:"weight" yaml:"weight"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities"`
}

// HasCapabilities reports whether the provider offers every required capability.
func (p ProviderPreference) HasCapabilities(required []string) bool {
	for _, c := range required {
		if !slices.Contains(p.Capabilities, c) {
			return false
		}
	}
	return true
}

// Config is the orchestration configuration, fixed at construction.
type Config struct {
	// Strategy picks among eligible providers.
	// Default: best_performance
	Strategy Strategy `json:"strategy" yaml:"strategy"`

	// AutoFailover enables failover detection.
	// Default: true
	AutoFailover bool `json:"auto_failover" yaml:"auto_failover"`

	// FailoverThresholdConsecutiveErrors is the consecutive health check
	// failures on a bound provider that call for failover.
	// Default: 3
	FailoverThresholdConsecutiveErrors int `json:"failover_threshold_consecutive_errors" yaml:"failover_threshold_consecutive_errors"`

	// HealthCheckGating excludes providers below MinProviderHealthScore.
	// Default: true
	HealthCheckGating bool `json:"health_check_gating" yaml:"health_check_gating"`

	// MinProviderHealthScore is the minimum uptime percentage of an eligible
	// provider. Providers that have not been probed yet are not gated.
	// Default: 70
	MinProviderHealthScore float64 `json:"min_provider_health_score" yaml:"min_provider_health_score"`

	// CircuitBreakerEnabled routes calls through per-provider breakers and
	// excludes providers whose breaker rejects calls.
	// Default: true
	CircuitBreakerEnabled bool `json:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`

	// CircuitBreaker holds the tunables of every provider breaker.
	// Default: resilience.DefaultCircuitBreakerConfig()
	CircuitBreaker resilience.CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`

	// Preferences is the ordered provider list.
	Preferences []ProviderPreference `json:"preferences" yaml:"preferences"`

	// SelectionHistorySize bounds the selection log.
	// Default: 1000
	SelectionHistorySize int `json:"selection_history_size" yaml:"selection_history_size"`

	// SwitchHistorySize bounds each session's switch log.
	// Default: 100
	SwitchHistorySize int `json:"switch_history_size" yaml:"switch_history_size"`
}

// DefaultConfig returns the default orchestration configuration without
// any preferences.
func DefaultConfig() Config {
	return Config{
		Strategy:                           StrategyBestPerformance,
		AutoFailover:                       true,
		FailoverThresholdConsecutiveErrors: 3,
		HealthCheckGating:                  true,
		MinProviderHealthScore:             70,
		CircuitBreakerEnabled:              true,
		CircuitBreaker:                     resilience.DefaultCircuitBreakerConfig(),
		SelectionHistorySize:               1000,
		SwitchHistorySize:                  100,
	}
}

// Validate reports whether the configuration can drive an orchestrator.
func (c Config) Validate() error {
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.FailoverThresholdConsecutiveErrors <= 0 {
		return fmt.Errorf("%w: failover threshold must be positive", ErrInvalidConfig)
	}
	if c.MinProviderHealthScore < 0 || c.MinProviderHealthScore > 100 {
		return fmt.Errorf("%w: min provider health score must be within [0, 100]", ErrInvalidConfig)
	}
	if len(c.Preferences) == 0 {
		return fmt.Errorf("%w: at least one provider preference is required", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Preferences))
	for _, p := range c.Preferences {
		if p.ProviderID == "" {
			return fmt.Errorf("%w: provider preference without id", ErrInvalidConfig)
		}
		if seen[p.ProviderID] {
			return fmt.Errorf("%w: duplicate provider %q", ErrInvalidConfig, p.ProviderID)
		}
		if p.Weight < 0 {
			return fmt.Errorf("%w: provider %q has a negative weight", ErrInvalidConfig, p.ProviderID)
		}
		seen[p.ProviderID] = true
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.FailoverThresholdConsecutiveErrors == 0 {
		c.FailoverThresholdConsecutiveErrors = d.FailoverThresholdConsecutiveErrors
	}
	if c.SelectionHistorySize <= 0 {
		c.SelectionHistorySize = d.SelectionHistorySize
	}
	if c.SwitchHistorySize <= 0 {
		c.SwitchHistorySize = d.SwitchHistorySize
	}
	return c
}
