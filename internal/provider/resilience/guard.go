package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// GuardConfig holds configuration for a Guard.
type GuardConfig struct {
	// Name identifies the guard for logging/metrics.
	Name string

	// Timeout bounds each individual attempt.
	// Default: 5 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// BreakerTimeout is the period of open state before switching to half-open.
	// Default: 30 seconds
	BreakerTimeout time.Duration

	// BreakerMaxRequests is the maximum number of requests allowed in half-open state.
	// Default: 1
	BreakerMaxRequests uint32

	// ReadyToTrip determines when to trip the breaker.
	// If nil, uses DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called when the breaker state changes.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultGuardConfig returns a sensible default configuration.
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:               name,
		Timeout:            5 * time.Second,
		MaxRetries:         3,
		InitialInterval:    100 * time.Millisecond,
		MaxInterval:        5 * time.Second,
		BreakerTimeout:     30 * time.Second,
		BreakerMaxRequests: 1,
		ReadyToTrip:        DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip trips the breaker when at least 5 requests have been made
// and the failure rate is 50% or higher.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < 5 {
		return false
	}
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return failureRatio >= 0.5
}

// Guard protects calls to supporting infrastructure (audit stores, message
// brokers) with a breaker and bounded exponential-backoff retries, so a slow
// or failing dependency cannot stall the caller.
type Guard struct {
	breaker *gobreaker.CircuitBreaker[struct{}]
	config  GuardConfig
}

// NewGuard creates a new Guard.
func NewGuard(cfg GuardConfig) *Guard {
	defaults := DefaultGuardConfig(cfg.Name)
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = defaults.BreakerTimeout
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = defaults.BreakerMaxRequests
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.BreakerMaxRequests,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: cfg.ReadyToTrip,
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = cfg.OnStateChange
	}

	return &Guard{
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		config:  cfg,
	}
}

// Do runs fn with breaker protection and retries. Each attempt gets its own
// timeout. Returns ErrCircuitOpen without calling fn while the breaker is open.
// MaxRetries of zero means a single attempt.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.config.InitialInterval
	bo.MaxInterval = g.config.MaxInterval
	bo.MaxElapsedTime = 0 // retries are bounded by WithMaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, g.config.MaxRetries), ctx)

	operation := func() error {
		_, err := g.breaker.Execute(func() (struct{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
			defer cancel()
			return struct{}{}, fn(attemptCtx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		return err
	}

	return backoff.Retry(operation, policy)
}

// Name returns the guard name.
func (g *Guard) Name() string {
	return g.config.Name
}

// State returns the current state of the guard's breaker.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// Counts returns the current counts of the guard's breaker.
func (g *Guard) Counts() gobreaker.Counts {
	return g.breaker.Counts()
}
