package orchestrator_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

type fakeHealth struct {
	mu      sync.Mutex
	metrics map[string]health.ProviderMetrics
}

func newFakeHealth() *fakeHealth {
	return &fakeHealth{metrics: make(map[string]health.ProviderMetrics)}
}

func (f *fakeHealth) ProviderHealth(id string) (health.ProviderMetrics, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metrics[id]
	return m, ok
}

func (f *fakeHealth) set(id string, m health.ProviderMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ProviderID = id
	f.metrics[id] = m
}

func healthyMetrics(latency time.Duration) health.ProviderMetrics {
	return health.ProviderMetrics{
		Status:           health.StatusHealthy,
		TotalChecks:      20,
		SuccessfulChecks: 20,
		SuccessRate:      100,
		AvgLatency:       latency,
		MinLatency:       latency,
		MaxLatency:       latency,
		UptimePercentage: 100,
	}
}

func offlineMetrics() health.ProviderMetrics {
	return health.ProviderMetrics{
		Status:              health.StatusOffline,
		TotalChecks:         20,
		SuccessfulChecks:    10,
		FailedChecks:        10,
		SuccessRate:         50,
		ConsecutiveFailures: 10,
		UptimePercentage:    0,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []orchestrator.ProviderSwitchEvent
}

func (r *recordingNotifier) NotifySwitch(ev orchestrator.ProviderSwitchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) all() []orchestrator.ProviderSwitchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]orchestrator.ProviderSwitchEvent(nil), r.events...)
}

func pref(id string, priority int) orchestrator.ProviderPreference {
	return orchestrator.ProviderPreference{
		ProviderID:   id,
		ProviderType: "stt",
		Priority:     priority,
		Weight:       1,
		Enabled:      true,
	}
}

func testConfig(prefs ...orchestrator.ProviderPreference) orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.Preferences = prefs
	return cfg
}

func newOrchestrator(t *testing.T, cfg orchestrator.Config, mutate ...func(*orchestrator.Options)) *orchestrator.Orchestrator {
	t.Helper()
	opts := orchestrator.Options{
		Config: cfg,
		Logger: zerolog.Nop(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	return o
}

func withHealth(h orchestrator.HealthSource) func(*orchestrator.Options) {
	return func(o *orchestrator.Options) { o.Health = h }
}

func withClock(c *fakeClock) func(*orchestrator.Options) {
	return func(o *orchestrator.Options) { o.Now = c.Now }
}
