package orchestrator

import "errors"

var (
	// ErrUnknownProvider is returned for a provider id without a preference.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderDisabled is returned when switching to a disabled provider.
	ErrProviderDisabled = errors.New("provider disabled")

	// ErrNoAlternativeProvider is reported by a failover that found nothing
	// better than the current binding.
	ErrNoAlternativeProvider = errors.New("no alternative provider available")

	// ErrBreakersDisabled is returned by breaker controls when circuit
	// breakers are turned off.
	ErrBreakersDisabled = errors.New("circuit breakers disabled")

	// ErrInvalidConfig is returned for unusable orchestration configuration.
	ErrInvalidConfig = errors.New("invalid orchestration config")
)
