// Package orchestrator selects providers for sessions, tracks session
// bindings, and fails sessions over when their provider degrades.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/resilience"
	"github.com/voxgate/voxgate/pkg/ringbuf"
)

// HealthSource provides the current metrics of a provider.
// *health.Monitor implements it.
type HealthSource interface {
	ProviderHealth(providerID string) (health.ProviderMetrics, bool)
}

// SwitchNotifier receives every switch event. NotifySwitch must not block.
type SwitchNotifier interface {
	NotifySwitch(ev ProviderSwitchEvent)
}

// Options holds the dependencies of an Orchestrator.
type Options struct {
	Config Config
	Logger zerolog.Logger

	// Health feeds selection gating and failover detection. Optional; without
	// it every provider is treated as having no data.
	Health HealthSource

	// Breakers is shared with other components when set. Otherwise the
	// orchestrator creates its own registry from Config.CircuitBreaker.
	Breakers *resilience.Registry

	// Notifier receives switch events. Optional.
	Notifier SwitchNotifier

	// Now, Rand and NewID replace time.Now, rand.Float64 and uuid
	// generation. Optional.
	Now   func() time.Time
	Rand  func() float64
	NewID func() string
}

type session struct {
	// mu serializes selection, failover and switching for one session.
	mu sync.Mutex

	// Guarded by Orchestrator.mu.
	providerID   string
	capabilities []string
	switches     *ringbuf.Buffer[ProviderSwitchEvent]
	pins         int
}

// Orchestrator chooses providers and keeps sessions bound to healthy ones.
// It is safe for concurrent use.
type Orchestrator struct {
	config      Config
	logger      zerolog.Logger
	health      HealthSource
	breakers    *resilience.Registry
	notifier    SwitchNotifier
	now         func() time.Time
	randFloat   func() float64
	newID       func() string
	tracer      trace.Tracer
	instruments *instruments
	prefs       map[string]ProviderPreference

	mu         sync.Mutex
	rrIndex    int
	selections *ringbuf.Buffer[ProviderSelection]
	sessions   map[string]*session
}

// New creates an Orchestrator and registers a breaker for every preference.
func New(opts Options) (*Orchestrator, error) {
	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inst, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("create orchestrator instruments: %w", err)
	}

	o := &Orchestrator{
		config:      cfg,
		logger:      opts.Logger.With().Str("component", "orchestrator").Logger(),
		health:      opts.Health,
		notifier:    opts.Notifier,
		now:         opts.Now,
		randFloat:   opts.Rand,
		newID:       opts.NewID,
		tracer:      otel.Tracer(tracerName),
		instruments: inst,
		prefs:       make(map[string]ProviderPreference, len(cfg.Preferences)),
		selections:  ringbuf.New[ProviderSelection](cfg.SelectionHistorySize),
		sessions:    make(map[string]*session),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.randFloat == nil {
		o.randFloat = rand.Float64
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}

	for _, p := range cfg.Preferences {
		o.prefs[p.ProviderID] = p
	}

	if cfg.CircuitBreakerEnabled {
		o.breakers = opts.Breakers
		if o.breakers == nil {
			o.breakers = resilience.NewRegistry(resilience.RegistryConfig{
				Defaults: cfg.CircuitBreaker,
				Clock:    opts.Now,
			})
		}
		o.breakers.AddStateChangeHook(o.onBreakerStateChange)
		for _, p := range cfg.Preferences {
			o.breakers.Register(p.ProviderID, cfg.CircuitBreaker)
		}
	}

	o.logger.Info().
		Str("strategy", string(cfg.Strategy)).
		Int("providers", len(cfg.Preferences)).
		Bool("auto_failover", cfg.AutoFailover).
		Bool("circuit_breakers", cfg.CircuitBreakerEnabled).
		Msg("provider orchestrator ready")

	return o, nil
}

func (o *Orchestrator) onBreakerStateChange(providerID string, from, to resilience.State) {
	o.instruments.recordTransition(providerID, from, to)

	evt := o.logger.Info()
	if to == resilience.StateOpen {
		evt = o.logger.Warn()
	}
	evt.Str("provider_id", providerID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state changed")
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Preferences returns the configured provider preferences in order.
func (o *Orchestrator) Preferences() []ProviderPreference {
	return slices.Clone(o.config.Preferences)
}

// SelectProvider chooses a provider offering every required capability. It
// never fails; when nothing passes the gates the selection is Degraded. With
// a session id the session is bound to the chosen provider.
func (o *Orchestrator) SelectProvider(ctx context.Context, sessionID string, requiredCapabilities ...string) ProviderSelection {
	ctx, span := o.tracer.Start(ctx, "orchestrator.SelectProvider")
	defer span.End()

	if sessionID == "" {
		sel := o.decide(requiredCapabilities)
		o.recordSelection(ctx, sel)
		span.SetAttributes(attribute.String("provider_id", sel.ProviderID))
		return sel
	}

	span.SetAttributes(attribute.String("session_id", sessionID))
	s := o.acquire(sessionID)
	defer o.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := o.decide(requiredCapabilities)
	sel.SessionID = sessionID
	o.recordSelection(ctx, sel)
	span.SetAttributes(attribute.String("provider_id", sel.ProviderID))

	o.mu.Lock()
	s.capabilities = slices.Clone(requiredCapabilities)
	reason := ReasonReselection
	if s.providerID == "" {
		reason = ReasonInitialSelection
	}
	o.mu.Unlock()

	o.bind(ctx, s, sessionID, sel.ProviderID, reason)
	return sel
}

func (o *Orchestrator) recordSelection(ctx context.Context, sel ProviderSelection) {
	o.mu.Lock()
	o.selections.Push(sel)
	o.mu.Unlock()

	o.instruments.recordSelection(ctx, sel)

	evt := o.logger.Debug()
	if sel.Degraded {
		evt = o.logger.Warn()
	}
	evt.Str("provider_id", sel.ProviderID).
		Str("session_id", sel.SessionID).
		Str("strategy", string(sel.Strategy)).
		Float64("confidence", sel.Confidence).
		Strs("fallbacks", sel.FallbackProviders).
		Msg(sel.Reason)
}

// session returns the state of sessionID, creating it when create is set.
// acquire returns the entry of sessionID, creating a placeholder when none
// exists, and pins it until release.
func (o *Orchestrator) acquire(sessionID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		s = &session{switches: ringbuf.New[ProviderSwitchEvent](o.config.SwitchHistorySize)}
		o.sessions[sessionID] = s
	}
	s.pins++
	return s
}

// release unpins s and forgets it again when nothing was ever bound, so
// refused requests for unknown sessions leave no entry behind.
func (o *Orchestrator) release(sessionID string, s *session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s.pins--
	if s.pins == 0 && s.providerID == "" && o.sessions[sessionID] == s {
		delete(o.sessions, sessionID)
	}
}

// bind points the session at providerID, recording a switch event when the
// binding changes. The caller holds s.mu.
func (o *Orchestrator) bind(ctx context.Context, s *session, sessionID, providerID, reason string) (ProviderSwitchEvent, bool) {
	o.mu.Lock()
	previous := s.providerID
	if previous == providerID {
		o.mu.Unlock()
		return ProviderSwitchEvent{}, false
	}
	s.providerID = providerID
	ev := ProviderSwitchEvent{
		ID:               o.newID(),
		SessionID:        sessionID,
		PreviousProvider: previous,
		NewProvider:      providerID,
		Reason:           reason,
		Timestamp:        o.now(),
		Success:          true,
	}
	s.switches.Push(ev)
	o.mu.Unlock()

	o.emitSwitch(ctx, ev)
	return ev, true
}

func (o *Orchestrator) appendSwitch(ctx context.Context, s *session, ev ProviderSwitchEvent) {
	o.mu.Lock()
	s.switches.Push(ev)
	o.mu.Unlock()

	o.emitSwitch(ctx, ev)
}

func (o *Orchestrator) emitSwitch(ctx context.Context, ev ProviderSwitchEvent) {
	o.instruments.recordSwitch(ctx, ev)

	evt := o.logger.Info()
	if !ev.Success {
		evt = o.logger.Warn().Str("error", ev.Error)
	}
	evt.Str("session_id", ev.SessionID).
		Str("from", ev.PreviousProvider).
		Str("to", ev.NewProvider).
		Str("reason", ev.Reason).
		Bool("success", ev.Success).
		Msg("session provider switch")

	if o.notifier != nil {
		o.notifier.NotifySwitch(ev)
	}
}

// CheckFailoverNeeded reports whether the provider bound to sessionID has
// failed enough consecutive health checks, or gone offline, to warrant
// failover. Always false when auto-failover is disabled.
func (o *Orchestrator) CheckFailoverNeeded(sessionID string) bool {
	if !o.config.AutoFailover || o.health == nil {
		return false
	}

	providerID, ok := o.SessionProvider(sessionID)
	if !ok {
		return false
	}

	m, ok := o.health.ProviderHealth(providerID)
	if !ok || !m.HasData() {
		return false
	}
	return m.ConsecutiveFailures >= o.config.FailoverThresholdConsecutiveErrors ||
		m.Status == health.StatusOffline
}

// PerformFailover reselects a provider for sessionID and rebinds the session.
// It never fails: when no better provider exists the returned event has
// Success false and the binding is left unchanged. Failovers of one session
// are serialized.
func (o *Orchestrator) PerformFailover(ctx context.Context, sessionID string) ProviderSwitchEvent {
	ctx, span := o.tracer.Start(ctx, "orchestrator.PerformFailover",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	s := o.acquire(sessionID)
	defer o.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	o.mu.Lock()
	previous, capabilities := s.providerID, slices.Clone(s.capabilities)
	o.mu.Unlock()

	sel := o.decide(capabilities)
	sel.SessionID = sessionID
	o.recordSelection(ctx, sel)

	if previous == "" {
		ev, _ := o.bind(ctx, s, sessionID, sel.ProviderID, ReasonInitialSelection)
		return ev
	}

	if sel.ProviderID == previous || sel.Degraded {
		ev := ProviderSwitchEvent{
			ID:               o.newID(),
			SessionID:        sessionID,
			PreviousProvider: previous,
			NewProvider:      sel.ProviderID,
			Reason:           ReasonFailover,
			Timestamp:        o.now(),
			Error:            ErrNoAlternativeProvider.Error(),
		}
		if sel.Degraded {
			ev.Error = fmt.Sprintf("%s: %s", ErrNoAlternativeProvider, sel.Reason)
		}
		span.SetStatus(codes.Error, ev.Error)
		o.appendSwitch(ctx, s, ev)
		return ev
	}

	ev, _ := o.bind(ctx, s, sessionID, sel.ProviderID, ReasonFailover)
	span.SetAttributes(
		attribute.String("previous_provider", previous),
		attribute.String("new_provider", sel.ProviderID),
	)
	return ev
}

// SwitchSessionProvider binds sessionID to providerID on operator or caller
// request. An unknown or disabled provider yields an event with Success false.
func (o *Orchestrator) SwitchSessionProvider(ctx context.Context, sessionID, providerID, reason string) ProviderSwitchEvent {
	ctx, span := o.tracer.Start(ctx, "orchestrator.SwitchSessionProvider",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("provider_id", providerID),
		))
	defer span.End()

	if reason == "" {
		reason = "manual"
	}

	s := o.acquire(sessionID)
	defer o.release(sessionID, s)
	s.mu.Lock()
	defer s.mu.Unlock()

	o.mu.Lock()
	previous := s.providerID
	o.mu.Unlock()

	var refusal error
	pref, ok := o.prefs[providerID]
	switch {
	case !ok:
		refusal = fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	case !pref.Enabled:
		refusal = fmt.Errorf("%w: %s", ErrProviderDisabled, providerID)
	}
	if refusal != nil {
		ev := ProviderSwitchEvent{
			ID:               o.newID(),
			SessionID:        sessionID,
			PreviousProvider: previous,
			NewProvider:      providerID,
			Reason:           reason,
			Timestamp:        o.now(),
			Error:            refusal.Error(),
		}
		span.SetStatus(codes.Error, ev.Error)
		o.appendSwitch(ctx, s, ev)
		return ev
	}

	if ev, changed := o.bind(ctx, s, sessionID, providerID, reason); changed {
		return ev
	}
	return ProviderSwitchEvent{
		ID:               o.newID(),
		SessionID:        sessionID,
		PreviousProvider: previous,
		NewProvider:      providerID,
		Reason:           reason,
		Timestamp:        o.now(),
		Success:          true,
	}
}

// CleanupSession forgets the binding and switch history of sessionID.
func (o *Orchestrator) CleanupSession(sessionID string) {
	o.mu.Lock()
	_, ok := o.sessions[sessionID]
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	if ok {
		o.logger.Debug().Str("session_id", sessionID).Msg("session cleaned up")
	}
}

// SessionProvider returns the provider bound to sessionID.
func (o *Orchestrator) SessionProvider(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok || s.providerID == "" {
		return "", false
	}
	return s.providerID, true
}

// SwitchHistory returns the switch events of sessionID, oldest first.
func (o *Orchestrator) SwitchHistory(sessionID string) []ProviderSwitchEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		return nil
	}
	return s.switches.Items()
}

// SelectionHistory returns up to limit of the most recent selections, oldest
// first. A limit of zero or less returns every retained selection.
func (o *Orchestrator) SelectionHistory(limit int) []ProviderSelection {
	o.mu.Lock()
	defer o.mu.Unlock()

	if limit <= 0 {
		return o.selections.Items()
	}
	return o.selections.Last(limit)
}

// RecordProviderSuccess reports a success observed outside
// CallProviderWithBreaker. It is a no-op when breakers are disabled.
func (o *Orchestrator) RecordProviderSuccess(providerID string) error {
	if err := o.knownProvider(providerID); err != nil {
		return err
	}
	if !o.config.CircuitBreakerEnabled {
		return nil
	}
	return o.breakers.RecordSuccess(providerID)
}

// RecordProviderFailure reports a failure observed outside
// CallProviderWithBreaker. It is a no-op when breakers are disabled.
func (o *Orchestrator) RecordProviderFailure(providerID string, cause error) error {
	if err := o.knownProvider(providerID); err != nil {
		return err
	}
	if !o.config.CircuitBreakerEnabled {
		return nil
	}
	return o.breakers.RecordFailure(providerID, cause)
}

// ResetCircuitBreaker closes a provider's breaker and zeroes its counters.
func (o *Orchestrator) ResetCircuitBreaker(providerID string) error {
	if err := o.breakerControl(providerID); err != nil {
		return err
	}
	o.logger.Info().Str("provider_id", providerID).Msg("circuit breaker reset")
	return o.breakers.Reset(providerID)
}

// ForceOpenCircuitBreaker opens a provider's breaker and restarts its cool-down.
func (o *Orchestrator) ForceOpenCircuitBreaker(providerID string) error {
	if err := o.breakerControl(providerID); err != nil {
		return err
	}
	o.logger.Warn().Str("provider_id", providerID).Msg("circuit breaker forced open")
	return o.breakers.ForceOpen(providerID)
}

// CircuitBreakerStatus returns the status of a provider's breaker.
func (o *Orchestrator) CircuitBreakerStatus(providerID string) (resilience.Status, error) {
	if err := o.breakerControl(providerID); err != nil {
		return resilience.Status{}, err
	}
	return o.breakers.Status(providerID)
}

// AllCircuitBreakerStatus returns the status of every provider breaker,
// ordered by provider id. Empty when breakers are disabled.
func (o *Orchestrator) AllCircuitBreakerStatus() []resilience.Status {
	if !o.config.CircuitBreakerEnabled {
		return []resilience.Status{}
	}

	all := o.breakers.AllStatus()
	statuses := make([]resilience.Status, 0, len(o.prefs))
	for _, s := range all {
		if _, ok := o.prefs[s.ProviderID]; ok {
			statuses = append(statuses, s)
		}
	}
	return statuses
}

func (o *Orchestrator) knownProvider(providerID string) error {
	if _, ok := o.prefs[providerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return nil
}

func (o *Orchestrator) breakerControl(providerID string) error {
	if err := o.knownProvider(providerID); err != nil {
		return err
	}
	if !o.config.CircuitBreakerEnabled {
		return ErrBreakersDisabled
	}
	return nil
}
