package health

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running monitor.
	ErrAlreadyRunning = errors.New("health monitor already running")

	// ErrUnknownProvider is returned for a provider id that was never registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidConfig is returned for unusable monitor configuration.
	ErrInvalidConfig = errors.New("invalid health monitor config")

	// ErrInvalidTarget is returned when registering a target without an id or prober.
	ErrInvalidTarget = errors.New("invalid health check target")

	// ErrUnhealthyResponse is returned by HTTPProber for a non-2xx response.
	ErrUnhealthyResponse = errors.New("unhealthy response")
)
