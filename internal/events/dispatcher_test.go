package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/internal/events"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
	"github.com/voxgate/voxgate/internal/provider/resilience"
)

type memorySink struct {
	name string
	err  error

	mu     sync.Mutex
	events []orchestrator.ProviderSwitchEvent
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, ev orchestrator.ProviderSwitchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) received() []orchestrator.ProviderSwitchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orchestrator.ProviderSwitchEvent(nil), s.events...)
}

func fastGuard() *resilience.GuardConfig {
	cfg := resilience.DefaultGuardConfig("")
	cfg.MaxRetries = 1
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = time.Millisecond
	return &cfg
}

func switchEvent(id string) orchestrator.ProviderSwitchEvent {
	return orchestrator.ProviderSwitchEvent{
		ID:          id,
		SessionID:   "call-1",
		NewProvider: "deepgram",
		Reason:      orchestrator.ReasonInitialSelection,
		Timestamp:   time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		Success:     true,
	}
}

func newDispatcher(t *testing.T, queueSize int, sinks ...events.Sink) *events.Dispatcher {
	t.Helper()
	d, err := events.NewDispatcher(events.DispatcherConfig{
		QueueSize: queueSize,
		Guard:     fastGuard(),
		Sinks:     sinks,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return d
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	audit := &memorySink{name: "audit"}
	broker := &memorySink{name: "broker"}
	d := newDispatcher(t, 8, audit, broker)

	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), events.ErrAlreadyRunning)

	d.NotifySwitch(switchEvent("e1"))
	d.NotifySwitch(switchEvent("e2"))

	require.Eventually(t, func() bool {
		return len(audit.received()) == 2 && len(broker.received()) == 2
	}, time.Second, 5*time.Millisecond)
	d.Stop()

	assert.Equal(t, "e1", audit.received()[0].ID)
	assert.Equal(t, uint64(4), d.Stats().Delivered)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	sink := &memorySink{name: "audit"}
	d := newDispatcher(t, 1, sink)

	d.NotifySwitch(switchEvent("kept"))
	d.NotifySwitch(switchEvent("dropped"))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.Queued)

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool { return len(sink.received()) == 1 }, time.Second, 5*time.Millisecond)
	d.Stop()

	assert.Equal(t, "kept", sink.received()[0].ID)
}

func TestDispatcher_FailingSinkDoesNotBlockOthers(t *testing.T) {
	broken := &memorySink{name: "broken", err: errors.New("connection reset")}
	healthy := &memorySink{name: "healthy"}
	d := newDispatcher(t, 8, broken, healthy)

	require.NoError(t, d.Start(context.Background()))
	d.NotifySwitch(switchEvent("e1"))

	require.Eventually(t, func() bool {
		return d.Stats().Failed == 1 && len(healthy.received()) == 1
	}, time.Second, 5*time.Millisecond)
	d.Stop()
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	sink := &memorySink{name: "audit"}
	d := newDispatcher(t, 16, sink)

	require.NoError(t, d.Start(context.Background()))
	for i := 0; i < 10; i++ {
		d.NotifySwitch(switchEvent("e"))
	}
	d.Stop()
	d.Stop()

	assert.Len(t, sink.received(), 10)
	assert.Zero(t, d.Stats().Queued)
}

func TestDispatcher_ReceivesOrchestratorSwitches(t *testing.T) {
	sink := &memorySink{name: "audit"}
	d := newDispatcher(t, 8, sink)
	require.NoError(t, d.Start(context.Background()))

	cfg := orchestrator.DefaultConfig()
	cfg.Preferences = []orchestrator.ProviderPreference{{ProviderID: "deepgram", Enabled: true, Weight: 1}}
	o, err := orchestrator.New(orchestrator.Options{Config: cfg, Logger: zerolog.Nop(), Notifier: d})
	require.NoError(t, err)

	o.SelectProvider(context.Background(), "call-9")
	d.Stop()

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, "call-9", got[0].SessionID)
	assert.Equal(t, "deepgram", got[0].NewProvider)
}
