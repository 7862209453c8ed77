package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RegistryConfig holds configuration for a breaker Registry.
type RegistryConfig struct {
	// Defaults are the tunables used when Register is given a zero config.
	// Default: DefaultCircuitBreakerConfig()
	Defaults CircuitBreakerConfig

	// OnStateChange is called after any registered breaker changes state.
	// More hooks can be added later with AddStateChangeHook.
	OnStateChange StateChangeFunc

	// Clock replaces time.Now for every breaker. Optional.
	Clock func() time.Time
}

// Registry owns one CircuitBreaker per provider. Breakers are created at
// startup and live for the lifetime of the process.
type Registry struct {
	config RegistryConfig

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	hooksMu sync.RWMutex
	hooks   []StateChangeFunc
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	cfg.Defaults = cfg.Defaults.withDefaults()
	r := &Registry{
		config:   cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
	if cfg.OnStateChange != nil {
		r.hooks = append(r.hooks, cfg.OnStateChange)
	}
	return r
}

// AddStateChangeHook registers fn for state changes of every breaker,
// including breakers registered before the call.
func (r *Registry) AddStateChangeHook(fn StateChangeFunc) {
	if fn == nil {
		return
	}
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) notify(providerID string, from, to State) {
	r.hooksMu.RLock()
	hooks := r.hooks
	r.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(providerID, from, to)
	}
}

// Register creates the breaker for providerID, or returns the existing one.
// Zero tunables in cfg fall back to the registry defaults.
func (r *Registry) Register(providerID string, cfg CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[providerID]; ok {
		return cb
	}

	merged := r.config.Defaults
	if cfg.FailureThreshold > 0 {
		merged.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Timeout > 0 {
		merged.Timeout = cfg.Timeout
	}
	if cfg.SuccessThreshold > 0 {
		merged.SuccessThreshold = cfg.SuccessThreshold
	}
	if cfg.HalfOpenMaxCalls > 0 {
		merged.HalfOpenMaxCalls = cfg.HalfOpenMaxCalls
	}

	opts := []Option{WithStateChange(r.notify)}
	if r.config.Clock != nil {
		opts = append(opts, WithClock(r.config.Clock))
	}

	cb := NewCircuitBreaker(providerID, merged, opts...)
	r.breakers[providerID] = cb
	return cb
}

// Breaker returns the breaker for providerID.
func (r *Registry) Breaker(providerID string) (*CircuitBreaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cb, ok := r.breakers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return cb, nil
}

// State returns the stored state of a provider's breaker.
func (r *Registry) State(providerID string) (State, error) {
	cb, err := r.Breaker(providerID)
	if err != nil {
		return StateClosed, err
	}
	return cb.State(), nil
}

// Status returns the status of a provider's breaker.
func (r *Registry) Status(providerID string) (Status, error) {
	cb, err := r.Breaker(providerID)
	if err != nil {
		return Status{}, err
	}
	return cb.Snapshot(), nil
}

// AllStatus returns the status of every breaker, ordered by provider id.
func (r *Registry) AllStatus() []Status {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(breakers))
	for _, cb := range breakers {
		statuses = append(statuses, cb.Snapshot())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ProviderID < statuses[j].ProviderID
	})
	return statuses
}

// RecordSuccess records a success for a call made outside Call.
func (r *Registry) RecordSuccess(providerID string) error {
	cb, err := r.Breaker(providerID)
	if err != nil {
		return err
	}
	cb.RecordSuccess()
	return nil
}

// RecordFailure records a failure for a call made outside Call.
func (r *Registry) RecordFailure(providerID string, cause error) error {
	cb, err := r.Breaker(providerID)
	if err != nil {
		return err
	}
	cb.RecordFailure(cause)
	return nil
}

// Reset closes a provider's breaker and zeroes its counters.
func (r *Registry) Reset(providerID string) error {
	cb, err := r.Breaker(providerID)
	if err != nil {
		return err
	}
	cb.Reset()
	return nil
}

// ForceOpen opens a provider's breaker and restarts its cool-down.
func (r *Registry) ForceOpen(providerID string) error {
	cb, err := r.Breaker(providerID)
	if err != nil {
		return err
	}
	cb.ForceOpen()
	return nil
}

// Call runs op through the breaker registered for providerID.
func Call[T any](ctx context.Context, r *Registry, providerID string, op Operation[T]) (T, error) {
	cb, err := r.Breaker(providerID)
	if err != nil {
		var zero T
		return zero, err
	}
	return Execute(ctx, cb, op)
}
