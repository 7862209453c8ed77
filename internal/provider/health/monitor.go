// Package health runs background probes against providers and derives rolling
// health metrics from the results.
package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/pkg/ringbuf"
)

// Aggregate success-rate floors, in percent.
const (
	healthySuccessRate  = 95.0
	degradedSuccessRate = 70.0
)

// MonitorConfig holds configuration for creating a Monitor.
type MonitorConfig struct {
	Config  Config
	Logger  zerolog.Logger
	Targets []Target

	// Now replaces time.Now for result timestamps. Optional.
	Now func() time.Time
}

type providerState struct {
	target  Target
	history *ringbuf.Buffer[CheckResult]

	totalChecks         int64
	successfulChecks    int64
	failedChecks        int64
	consecutiveFailures int
	lastCheck           time.Time
	lastSuccess         time.Time
	lastSucceeded       bool
	lastError           string

	metrics ProviderMetrics
}

// Monitor probes every enabled provider once per interval and keeps bounded
// per-provider history plus derived metrics. Queries read the last computed
// snapshot and never trigger a probe.
type Monitor struct {
	config      Config
	logger      zerolog.Logger
	now         func() time.Time
	instruments *instruments

	mu        sync.RWMutex
	providers map[string]*providerState
	order     []string

	// cycleMu serializes cycles so CheckNow never interleaves with the loop.
	cycleMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a stopped monitor. Zero config values fall back to
// DefaultConfig.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	config := withDefaults(cfg.Config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	inst, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("create health instruments: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Monitor{
		config:      config,
		logger:      cfg.Logger.With().Str("component", "health_monitor").Logger(),
		now:         now,
		instruments: inst,
		providers:   make(map[string]*providerState),
	}
	for _, t := range cfg.Targets {
		if err := m.Register(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func withDefaults(c Config) Config {
	d := DefaultConfig()
	if c.CheckInterval == 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.LatencyWarningThreshold == 0 {
		c.LatencyWarningThreshold = d.LatencyWarningThreshold
	}
	if c.LatencyErrorThreshold == 0 {
		c.LatencyErrorThreshold = d.LatencyErrorThreshold
	}
	if c.HistoryRetention == 0 {
		c.HistoryRetention = d.HistoryRetention
	}
	return c
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.config
}

// Register adds a provider, or replaces the target of an already registered
// one while keeping its history.
func (m *Monitor) Register(t Target) error {
	if t.ProviderID == "" || t.Prober == nil {
		return fmt.Errorf("%w: provider id and prober are required", ErrInvalidTarget)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.providers[t.ProviderID]; ok {
		st.target = t
		st.metrics.ProviderType = t.ProviderType
		return nil
	}

	m.providers[t.ProviderID] = &providerState{
		target:  t,
		history: ringbuf.New[CheckResult](m.config.historyCapacity()),
		metrics: ProviderMetrics{
			ProviderID:   t.ProviderID,
			ProviderType: t.ProviderType,
			Status:       StatusUnknown,
		},
	}
	m.order = append(m.order, t.ProviderID)
	return nil
}

// SetEnabled includes or excludes a provider from future cycles.
func (m *Monitor) SetEnabled(providerID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.providers[providerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	st.target.Enabled = enabled
	return nil
}

// Start launches the background cycle. The first cycle runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Info().
		Dur("interval", m.config.CheckInterval).
		Dur("timeout", m.config.Timeout).
		Int("providers", len(m.targets(false))).
		Msg("starting provider health monitor")

	go m.run(loopCtx, m.done)
	return nil
}

// Stop cancels the background cycle and waits for it to exit. No probe
// result is recorded after Stop returns. Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil

	m.logger.Info().Msg("provider health monitor stopped")
}

// Running reports whether the background cycle is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// CheckNow runs one probe cycle synchronously and returns its results.
func (m *Monitor) CheckNow(ctx context.Context) []CheckResult {
	return m.runCycle(ctx)
}

func (m *Monitor) runCycle(ctx context.Context) []CheckResult {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := time.Now()
	targets := m.targets(true)
	results := make([]CheckResult, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i] = m.probe(ctx, t)
			return nil
		})
	}
	_ = g.Wait() // probes never return errors

	if ctx.Err() != nil {
		// Cancelled mid-cycle: the results say nothing about the providers.
		return nil
	}

	m.record(results)

	for _, r := range results {
		m.instruments.recordCheck(ctx, r)
	}
	m.instruments.cycleDuration.Record(ctx, time.Since(start).Seconds())

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	m.logger.Debug().
		Int("probed", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("health check cycle completed")

	return results
}

func (m *Monitor) targets(enabledOnly bool) []Target {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]Target, 0, len(m.order))
	for _, id := range m.order {
		t := m.providers[id].target
		if enabledOnly && !t.Enabled {
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

// probe runs one check bounded by the probe timeout. A prober that ignores
// its context is abandoned when the timeout fires.
func (m *Monitor) probe(ctx context.Context, t Target) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() {
		errc <- safeProbe(probeCtx, t.Prober)
	}()

	var err error
	select {
	case err = <-errc:
	case <-probeCtx.Done():
		err = probeCtx.Err()
	}
	latency := time.Since(start)

	result := CheckResult{
		ProviderID:   t.ProviderID,
		ProviderType: t.ProviderType,
		Latency:      latency,
		Timestamp:    m.now(),
		Success:      err == nil,
	}

	timedOut := err != nil &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded))

	switch {
	case timedOut:
		result.Status = StatusOffline
		result.Error = fmt.Sprintf("health check timed out after %s", m.config.Timeout)
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	case latency > m.config.LatencyErrorThreshold:
		result.Status = StatusUnhealthy
	case latency > m.config.LatencyWarningThreshold:
		result.Status = StatusDegraded
	default:
		result.Status = StatusHealthy
	}

	if err != nil {
		m.logger.Warn().
			Str("provider_id", t.ProviderID).
			Str("status", string(result.Status)).
			Dur("latency", latency).
			Err(err).
			Msg("provider health check failed")
	}
	return result
}

func safeProbe(ctx context.Context, p Prober) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Probe(ctx)
}

// record stores a cycle's results, purges expired history and recomputes
// metrics, all under one write lock so readers never see a partial cycle.
func (m *Monitor) record(results []CheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.config.HistoryRetention)
	expired := func(r CheckResult) bool { return r.Timestamp.Before(cutoff) }

	for _, r := range results {
		st, ok := m.providers[r.ProviderID]
		if !ok {
			continue
		}
		// Only age evicts history: a full ring after purging holds nothing
		// but retained results, so it grows instead of overwriting one.
		st.history.DropOldestWhile(expired)
		if st.history.Len() == st.history.Cap() {
			st.history.Grow(st.history.Cap())
		}
		st.history.Push(r)
		st.totalChecks++
		st.lastCheck = r.Timestamp
		st.lastSucceeded = r.Success
		if r.Success {
			st.successfulChecks++
			st.consecutiveFailures = 0
			st.lastSuccess = r.Timestamp
		} else {
			st.failedChecks++
			st.consecutiveFailures++
			st.lastError = r.Error
		}
	}

	for _, id := range m.order {
		st := m.providers[id]
		st.history.DropOldestWhile(expired)
		if st.totalChecks > 0 {
			st.metrics = m.computeMetrics(st)
		}
	}
}

func (m *Monitor) computeMetrics(st *providerState) ProviderMetrics {
	pm := ProviderMetrics{
		ProviderID:          st.target.ProviderID,
		ProviderType:        st.target.ProviderType,
		TotalChecks:         st.totalChecks,
		SuccessfulChecks:    st.successfulChecks,
		FailedChecks:        st.failedChecks,
		SuccessRate:         round2(float64(st.successfulChecks) / float64(st.totalChecks) * 100),
		LastCheck:           st.lastCheck,
		LastSuccess:         st.lastSuccess,
		LastError:           st.lastError,
		ConsecutiveFailures: st.consecutiveFailures,
	}

	window := st.history.Items()
	var (
		windowSuccesses int
		latencySum      time.Duration
	)
	for _, r := range window {
		if !r.Success {
			continue
		}
		if windowSuccesses == 0 || r.Latency < pm.MinLatency {
			pm.MinLatency = r.Latency
		}
		if r.Latency > pm.MaxLatency {
			pm.MaxLatency = r.Latency
		}
		latencySum += r.Latency
		windowSuccesses++
	}
	if windowSuccesses > 0 {
		pm.AvgLatency = latencySum / time.Duration(windowSuccesses)
	}
	if len(window) > 0 {
		pm.UptimePercentage = round2(float64(windowSuccesses) / float64(len(window)) * 100)
		pm.SuccessRate = pm.UptimePercentage
	}

	pm.Status = classify(st.consecutiveFailures, m.config.MaxConsecutiveFailures, st.lastSucceeded, pm.SuccessRate)
	return pm
}

// classify applies the aggregate status rules, most specific first.
func classify(consecutiveFailures, maxFailures int, lastSucceeded bool, successRate float64) Status {
	switch {
	case consecutiveFailures >= maxFailures:
		return StatusOffline
	case lastSucceeded && successRate >= healthySuccessRate:
		return StatusHealthy
	case successRate >= degradedSuccessRate:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ProviderHealth returns the last computed metrics for a registered provider.
// A provider that has not been probed yet reports StatusUnknown.
func (m *Monitor) ProviderHealth(providerID string) (ProviderMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.providers[providerID]
	if !ok {
		return ProviderMetrics{}, false
	}
	return st.metrics, true
}

// AllProvidersHealth returns the metrics of every registered provider.
func (m *Monitor) AllProvidersHealth() map[string]ProviderMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make(map[string]ProviderMetrics, len(m.providers))
	for id, st := range m.providers {
		all[id] = st.metrics
	}
	return all
}

// HealthyProviders returns the ids whose current status is healthy, in
// registration order.
func (m *Monitor) HealthyProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for _, id := range m.order {
		if m.providers[id].metrics.Status == StatusHealthy {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsProviderHealthy reports whether a provider's current status is healthy.
func (m *Monitor) IsProviderHealthy(providerID string) bool {
	pm, ok := m.ProviderHealth(providerID)
	return ok && pm.Status == StatusHealthy
}

// History returns a provider's retained check results, oldest first.
func (m *Monitor) History(providerID string) ([]CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return st.history.Items(), nil
}
