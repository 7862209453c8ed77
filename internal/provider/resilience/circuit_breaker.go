// Package resilience guards calls to external providers.
//
// CircuitBreaker is the per-provider three-state breaker (closed, open,
// half-open) that fails fast while a provider is judged unhealthy. Registry
// owns one breaker per configured provider. Guard wraps infrastructure calls
// (event sinks and similar) with a gobreaker breaker plus exponential backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the operating mode of a CircuitBreaker.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down has elapsed.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen
)

// String returns the state name used in logs and API responses.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig holds the tunables of a provider's circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// closed breaker.
	// Default: 5
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// Timeout is the open-state cool-down before a probe call is admitted.
	// Default: 60 seconds
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker.
	// Default: 2
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`

	// HalfOpenMaxCalls is the number of concurrent calls admitted while
	// half-open.
	// Default: 3
	HalfOpenMaxCalls int `json:"half_open_max_calls" yaml:"half_open_max_calls"`
}

// DefaultCircuitBreakerConfig returns the default breaker tunables.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		SuccessThreshold: 2,
		HalfOpenMaxCalls: 3,
	}
}

// Validate reports whether every tunable is positive.
func (c CircuitBreakerConfig) Validate() error {
	switch {
	case c.FailureThreshold <= 0:
		return fmt.Errorf("%w: failure threshold must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	case c.SuccessThreshold <= 0:
		return fmt.Errorf("%w: success threshold must be positive", ErrInvalidConfig)
	case c.HalfOpenMaxCalls <= 0:
		return fmt.Errorf("%w: half-open max calls must be positive", ErrInvalidConfig)
	}
	return nil
}

// withDefaults fills zero values from DefaultCircuitBreakerConfig.
func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// StateChangeFunc is notified after a breaker changes state.
type StateChangeFunc func(providerID string, from, to State)

// Option customizes a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChange registers a state change hook. The hook runs after the
// breaker lock has been released.
func WithStateChange(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// Operation is a provider call wrapped by a breaker.
type Operation[T any] func(ctx context.Context) (T, error)

// Status is a point-in-time view of a breaker.
type Status struct {
	ProviderID           string               `json:"provider_id"`
	State                State                `json:"state"`
	ConsecutiveFailures  int                  `json:"consecutive_failures"`
	ConsecutiveSuccesses int                  `json:"consecutive_successes"`
	OpenedAt             *time.Time           `json:"opened_at,omitempty"`
	RetryAfter           time.Duration        `json:"retry_after"`
	HalfOpenInFlight     int                  `json:"half_open_in_flight"`
	TotalCalls           uint64               `json:"total_calls"`
	TotalFailures        uint64               `json:"total_failures"`
	TotalRejections      uint64               `json:"total_rejections"`
	LastSuccessAt        *time.Time           `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time           `json:"last_failure_at,omitempty"`
	LastError            string               `json:"last_error,omitempty"`
	Config               CircuitBreakerConfig `json:"config"`
}

type transition struct {
	from, to State
}

// ticket identifies an admitted call so its outcome can be matched to the
// state generation it was admitted under.
type ticket struct {
	generation uint64
	halfOpen   bool
}

// CircuitBreaker is a per-provider three-state breaker driven by consecutive
// call outcomes. It is safe for concurrent use.
//
// The open to half-open transition is lazy: it happens when a call or an
// outcome arrives after the cool-down, never from a timer.
type CircuitBreaker struct {
	providerID    string
	config        CircuitBreakerConfig
	now           func() time.Time
	onStateChange StateChangeFunc

	mu                   sync.Mutex
	state                State
	generation           uint64
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	halfOpenInFlight     int
	totalCalls           uint64
	totalFailures        uint64
	totalRejections      uint64
	lastSuccessAt        time.Time
	lastFailureAt        time.Time
	lastError            string
	pending              []transition
}

// NewCircuitBreaker creates a closed breaker for providerID. Zero tunables
// fall back to DefaultCircuitBreakerConfig.
func NewCircuitBreaker(providerID string, cfg CircuitBreakerConfig, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		providerID: providerID,
		config:     cfg.withDefaults(),
		now:        time.Now,
		state:      StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// ProviderID returns the provider this breaker protects.
func (cb *CircuitBreaker) ProviderID() string {
	return cb.providerID
}

// Config returns the breaker tunables.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.config
}

// Execute runs op through cb. A rejected call returns a *BreakerOpenError
// without invoking op; a failed op returns a *ProviderError wrapping the
// original error. A panic in op is recorded as a failure and re-raised.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, op Operation[T]) (result T, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	t, err := cb.admit()
	if err != nil {
		return result, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.complete(t, false, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	result, err = op(ctx)
	if err == nil {
		cb.complete(t, true, nil)
		return result, nil
	}

	if errors.Is(err, context.Canceled) {
		// The caller gave up; that says nothing about the provider.
		cb.release(t)
	} else {
		cb.complete(t, false, err)
	}
	return result, &ProviderError{ProviderID: cb.providerID, Cause: err}
}

// Allow reports whether a call would currently be admitted. It changes no
// state: an open breaker whose cool-down has elapsed reports true but stays
// open until the next call arrives. It does not reserve a half-open slot.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return !cb.now().Before(cb.openedAt.Add(cb.config.Timeout))
	default:
		return cb.halfOpenInFlight < cb.config.HalfOpenMaxCalls
	}
}

// RecordSuccess records a success observed outside Execute.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.locked(func(now time.Time) {
		cb.refresh(now)
		cb.onSuccess(now)
	})
}

// RecordFailure records a failure observed outside Execute.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.locked(func(now time.Time) {
		cb.refresh(now)
		cb.onFailure(now, err)
	})
}

// Reset closes the breaker and zeroes every counter.
func (cb *CircuitBreaker) Reset() {
	cb.locked(func(now time.Time) {
		cb.setState(StateClosed, now)
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
		cb.halfOpenInFlight = 0
	})
}

// ForceOpen opens the breaker and restarts the cool-down.
func (cb *CircuitBreaker) ForceOpen() {
	cb.locked(func(now time.Time) {
		cb.setState(StateOpen, now)
	})
}

// State returns the stored state. An open breaker whose cool-down has elapsed
// still reports open until the next call arrives.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current status of the breaker.
func (cb *CircuitBreaker) Snapshot() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	s := Status{
		ProviderID:           cb.providerID,
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		HalfOpenInFlight:     cb.halfOpenInFlight,
		TotalCalls:           cb.totalCalls,
		TotalFailures:        cb.totalFailures,
		TotalRejections:      cb.totalRejections,
		LastError:            cb.lastError,
		Config:               cb.config,
	}
	if cb.state == StateOpen {
		openedAt := cb.openedAt
		s.OpenedAt = &openedAt
		s.RetryAfter = cb.retryAfter(now)
	}
	if !cb.lastSuccessAt.IsZero() {
		t := cb.lastSuccessAt
		s.LastSuccessAt = &t
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		s.LastFailureAt = &t
	}
	return s
}

func (cb *CircuitBreaker) admit() (ticket, error) {
	var (
		t   ticket
		err error
	)
	cb.locked(func(now time.Time) {
		cb.refresh(now)

		switch cb.state {
		case StateOpen:
			cb.totalRejections++
			err = &BreakerOpenError{ProviderID: cb.providerID, RetryAfter: cb.retryAfter(now)}
			return
		case StateHalfOpen:
			if cb.halfOpenInFlight >= cb.config.HalfOpenMaxCalls {
				cb.totalRejections++
				err = &BreakerOpenError{ProviderID: cb.providerID, HalfOpen: true}
				return
			}
			cb.halfOpenInFlight++
			t.halfOpen = true
		}

		cb.totalCalls++
		t.generation = cb.generation
	})
	return t, err
}

// complete applies the outcome of an admitted call. Outcomes from an earlier
// generation are dropped.
func (cb *CircuitBreaker) complete(t ticket, success bool, err error) {
	cb.locked(func(now time.Time) {
		if t.generation != cb.generation {
			return
		}
		if t.halfOpen {
			cb.halfOpenInFlight--
		}
		if success {
			cb.onSuccess(now)
		} else {
			cb.onFailure(now, err)
		}
	})
}

// release frees a half-open slot without recording an outcome.
func (cb *CircuitBreaker) release(t ticket) {
	cb.locked(func(time.Time) {
		if t.halfOpen && t.generation == cb.generation {
			cb.halfOpenInFlight--
		}
	})
}

// locked runs fn under the breaker lock and fires state change hooks once the
// lock is released.
func (cb *CircuitBreaker) locked(fn func(now time.Time)) {
	cb.mu.Lock()
	fn(cb.now())
	pending := cb.pending
	cb.pending = nil
	cb.mu.Unlock()

	if cb.onStateChange == nil {
		return
	}
	for _, tr := range pending {
		cb.onStateChange(cb.providerID, tr.from, tr.to)
	}
}

func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.state == StateOpen && !now.Before(cb.openedAt.Add(cb.config.Timeout)) {
		cb.setState(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) onSuccess(now time.Time) {
	cb.lastSuccessAt = now

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed, now)
		}
	}
	// Outcomes arriving while open are ignored.
}

func (cb *CircuitBreaker) onFailure(now time.Time, err error) {
	cb.lastFailureAt = now
	if err != nil {
		cb.lastError = err.Error()
	}

	switch cb.state {
	case StateClosed:
		cb.totalFailures++
		cb.consecutiveSuccesses = 0
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.totalFailures++
		cb.consecutiveSuccesses = 0
		cb.consecutiveFailures++
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) setState(to State, now time.Time) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.halfOpenInFlight = 0

	switch to {
	case StateOpen:
		cb.openedAt = now
		cb.consecutiveSuccesses = 0
	case StateHalfOpen:
		cb.consecutiveSuccesses = 0
	case StateClosed:
		cb.openedAt = time.Time{}
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
	}

	if from != to {
		cb.pending = append(cb.pending, transition{from: from, to: to})
	}
}

func (cb *CircuitBreaker) retryAfter(now time.Time) time.Duration {
	remaining := cb.openedAt.Add(cb.config.Timeout).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
