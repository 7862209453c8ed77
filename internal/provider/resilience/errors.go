package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen matches every *BreakerOpenError via errors.Is, and is
	// returned by Guard when its breaker rejects a call.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrUnknownProvider is returned for a provider id without a breaker.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidConfig is returned for breaker tunables that cannot be used.
	ErrInvalidConfig = errors.New("invalid circuit breaker config")
)

// ErrorKind classifies errors returned from a breaker-wrapped call.
type ErrorKind int

const (
	// KindNone means the call succeeded.
	KindNone ErrorKind = iota
	// KindBreakerOpen means the breaker refused the call; the provider was
	// not invoked.
	KindBreakerOpen
	// KindProviderFailure means the provider was invoked and failed.
	KindProviderFailure
	// KindOther covers errors raised before admission, such as a context
	// that was already done.
	KindOther
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBreakerOpen:
		return "breaker_open"
	case KindProviderFailure:
		return "provider_failure"
	default:
		return "other"
	}
}

// KindOf returns the kind of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var openErr *BreakerOpenError
	if errors.As(err, &openErr) {
		return KindBreakerOpen
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return KindProviderFailure
	}

	return KindOther
}

// BreakerOpenError is returned when a breaker rejects a call.
type BreakerOpenError struct {
	// ProviderID is the protected provider.
	ProviderID string

	// RetryAfter is the time left until a probe call is admitted.
	// Zero for a half-open breaker whose probe budget is exhausted.
	RetryAfter time.Duration

	// HalfOpen is set when the rejection came from the half-open probe budget.
	HalfOpen bool
}

func (e *BreakerOpenError) Error() string {
	if e.HalfOpen {
		return fmt.Sprintf("circuit breaker for provider %q is half-open and at its probe limit", e.ProviderID)
	}
	return fmt.Sprintf("circuit breaker for provider %q is open, retry in %.1fs", e.ProviderID, e.RetryAfterSeconds())
}

// Is reports whether target is ErrCircuitOpen.
func (e *BreakerOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RetryAfterSeconds returns RetryAfter in seconds.
func (e *BreakerOpenError) RetryAfterSeconds() float64 {
	return e.RetryAfter.Seconds()
}

// ProviderError wraps a failure returned by a provider operation.
type ProviderError struct {
	ProviderID string
	Cause      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q: %v", e.ProviderID, e.Cause)
}

// Unwrap returns the original provider error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}
