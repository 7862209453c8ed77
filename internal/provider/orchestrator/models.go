package orchestrator

import "time"

// ProviderSelection is the outcome of one selection decision.
type ProviderSelection struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id,omitempty"`
	ProviderID        string    `json:"provider_id"`
	ProviderType      string    `json:"provider_type"`
	Reason            string    `json:"reason"`
	Confidence        float64   `json:"confidence"`
	FallbackProviders []string  `json:"fallback_providers"`
	Strategy          Strategy  `json:"strategy"`
	Degraded          bool      `json:"degraded"`
	Timestamp         time.Time `json:"timestamp"`
}

// ProviderSwitchEvent records a change, or a failed attempt to change, the
// provider bound to a session. An empty PreviousProvider marks the first
// assignment.
type ProviderSwitchEvent struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	PreviousProvider string    `json:"previous_provider,omitempty"`
	NewProvider      string    `json:"new_provider"`
	Reason           string    `json:"reason"`
	Timestamp        time.Time `json:"timestamp"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
}

// Switch reasons recorded by the orchestrator itself.
const (
	ReasonInitialSelection = "initial_selection"
	ReasonReselection      = "reselection"
	ReasonFailover         = "failover"
)
