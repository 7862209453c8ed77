package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*orchestrator.Config)
	}{
		{"no preferences", func(c *orchestrator.Config) { c.Preferences = nil }},
		{"unknown strategy", func(c *orchestrator.Config) { c.Strategy = "fastest" }},
		{"duplicate provider", func(c *orchestrator.Config) {
			c.Preferences = append(c.Preferences, pref("deepgram", 9))
		}},
		{"empty provider id", func(c *orchestrator.Config) {
			c.Preferences = append(c.Preferences, pref("", 9))
		}},
		{"negative weight", func(c *orchestrator.Config) { c.Preferences[0].Weight = -1 }},
		{"health score above 100", func(c *orchestrator.Config) { c.MinProviderHealthScore = 101 }},
		{"negative failover threshold", func(c *orchestrator.Config) { c.FailoverThresholdConsecutiveErrors = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(pref("deepgram", 1))
			tt.mutate(&cfg)
			_, err := orchestrator.New(orchestrator.Options{Config: cfg})
			assert.ErrorIs(t, err, orchestrator.ErrInvalidConfig)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range orchestrator.Strategies {
		got, err := orchestrator.ParseStrategy(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := orchestrator.ParseStrategy("cheapest")
	assert.ErrorIs(t, err, orchestrator.ErrInvalidConfig)
}

func TestSelectProvider_BindsSession(t *testing.T) {
	notifier := &recordingNotifier{}
	cfg := testConfig(pref("deepgram", 1), pref("assemblyai", 2))
	cfg.Strategy = orchestrator.StrategyPriorityList
	o := newOrchestrator(t, cfg, func(opts *orchestrator.Options) { opts.Notifier = notifier })
	ctx := context.Background()

	sel := o.SelectProvider(ctx, "call-42")
	assert.Equal(t, "call-42", sel.SessionID)

	bound, ok := o.SessionProvider("call-42")
	require.True(t, ok)
	assert.Equal(t, "deepgram", bound)

	history := o.SwitchHistory("call-42")
	require.Len(t, history, 1)
	assert.Empty(t, history[0].PreviousProvider, "first assignment")
	assert.Equal(t, "deepgram", history[0].NewProvider)
	assert.Equal(t, orchestrator.ReasonInitialSelection, history[0].Reason)
	assert.True(t, history[0].Success)

	o.SelectProvider(ctx, "call-42")
	assert.Len(t, o.SwitchHistory("call-42"), 1, "unchanged binding records nothing")
	assert.Len(t, notifier.all(), 1)

	_, ok = o.SessionProvider("unknown-session")
	assert.False(t, ok)
	assert.Nil(t, o.SwitchHistory("unknown-session"))
}

func TestCheckFailoverNeeded(t *testing.T) {
	threshold := func(n int) health.ProviderMetrics {
		m := healthyMetrics(100 * time.Millisecond)
		m.Status = health.StatusDegraded
		m.ConsecutiveFailures = n
		return m
	}

	tests := []struct {
		name         string
		autoFailover bool
		metrics      *health.ProviderMetrics
		bind         bool
		want         bool
	}{
		{"healthy provider", true, ptr(healthyMetrics(100 * time.Millisecond)), true, false},
		{"failures below threshold", true, ptr(threshold(2)), true, false},
		{"failures at threshold", true, ptr(threshold(3)), true, true},
		{"failures above threshold", true, ptr(threshold(7)), true, true},
		{"offline", true, ptr(health.ProviderMetrics{Status: health.StatusOffline, TotalChecks: 1, FailedChecks: 1}), true, true},
		{"auto failover disabled", false, ptr(offlineMetrics()), true, false},
		{"unbound session", true, ptr(offlineMetrics()), false, false},
		{"no metrics yet", true, nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHealth()
			cfg := testConfig(pref("deepgram", 1))
			cfg.AutoFailover = tt.autoFailover
			cfg.HealthCheckGating = false
			o := newOrchestrator(t, cfg, withHealth(h))

			if tt.bind {
				o.SelectProvider(context.Background(), "s1")
			}
			if tt.metrics != nil {
				h.set("deepgram", *tt.metrics)
			}

			assert.Equal(t, tt.want, o.CheckFailoverNeeded("s1"))
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestPerformFailover_MovesSessionToHealthyProvider(t *testing.T) {
	h := newFakeHealth()
	h.set("deepgram", healthyMetrics(100*time.Millisecond))
	h.set("assemblyai", healthyMetrics(300*time.Millisecond))
	notifier := &recordingNotifier{}
	o := newOrchestrator(t, testConfig(pref("deepgram", 1), pref("assemblyai", 2)),
		withHealth(h),
		func(opts *orchestrator.Options) { opts.Notifier = notifier },
	)
	ctx := context.Background()

	o.SelectProvider(ctx, "call-1")
	h.set("deepgram", offlineMetrics())
	require.True(t, o.CheckFailoverNeeded("call-1"))

	ev := o.PerformFailover(ctx, "call-1")

	assert.True(t, ev.Success)
	assert.Empty(t, ev.Error)
	assert.Equal(t, "deepgram", ev.PreviousProvider)
	assert.Equal(t, "assemblyai", ev.NewProvider)
	assert.Equal(t, orchestrator.ReasonFailover, ev.Reason)

	bound, _ := o.SessionProvider("call-1")
	assert.Equal(t, "assemblyai", bound)
	assert.False(t, o.CheckFailoverNeeded("call-1"))

	history := o.SwitchHistory("call-1")
	require.Len(t, history, 2)
	assert.Equal(t, ev.ID, history[1].ID)
	assert.Len(t, notifier.all(), 2)
}

func TestPerformFailover_NoAlternative(t *testing.T) {
	h := newFakeHealth()
	o := newOrchestrator(t, testConfig(pref("deepgram", 1), pref("assemblyai", 2)), withHealth(h))
	ctx := context.Background()

	o.SelectProvider(ctx, "call-1")
	h.set("deepgram", offlineMetrics())
	h.set("assemblyai", offlineMetrics())

	ev := o.PerformFailover(ctx, "call-1")

	assert.False(t, ev.Success)
	assert.Contains(t, ev.Error, orchestrator.ErrNoAlternativeProvider.Error())
	assert.Equal(t, "deepgram", ev.PreviousProvider)

	bound, _ := o.SessionProvider("call-1")
	assert.Equal(t, "deepgram", bound, "binding unchanged")

	history := o.SwitchHistory("call-1")
	require.Len(t, history, 2, "failed failovers are recorded too")
	assert.False(t, history[1].Success)
}

func TestPerformFailover_SameProviderReselected(t *testing.T) {
	h := newFakeHealth()
	h.set("deepgram", healthyMetrics(100*time.Millisecond))
	o := newOrchestrator(t, testConfig(pref("deepgram", 1)), withHealth(h))
	ctx := context.Background()

	o.SelectProvider(ctx, "call-1")
	ev := o.PerformFailover(ctx, "call-1")

	assert.False(t, ev.Success)
	assert.Equal(t, orchestrator.ErrNoAlternativeProvider.Error(), ev.Error)
	assert.Equal(t, "deepgram", ev.NewProvider)
}

func TestPerformFailover_UnboundSessionGetsFirstAssignment(t *testing.T) {
	o := newOrchestrator(t, testConfig(pref("deepgram", 1)))

	ev := o.PerformFailover(context.Background(), "fresh")

	assert.True(t, ev.Success)
	assert.Empty(t, ev.PreviousProvider)
	assert.Equal(t, "deepgram", ev.NewProvider)
}

func TestPerformFailover_SerializedPerSession(t *testing.T) {
	cfg := testConfig(pref("a", 1), pref("b", 2), pref("c", 3))
	cfg.Strategy = orchestrator.StrategyRoundRobin
	cfg.SwitchHistorySize = 1000
	o := newOrchestrator(t, cfg)
	ctx := context.Background()
	o.SelectProvider(ctx, "busy")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.PerformFailover(ctx, "busy")
		}()
	}
	wg.Wait()

	history := o.SwitchHistory("busy")
	bound := history[0].NewProvider
	for i, ev := range history[1:] {
		assert.Equal(t, bound, ev.PreviousProvider, "event %d", i+1)
		if ev.Success {
			bound = ev.NewProvider
		}
	}
	current, _ := o.SessionProvider("busy")
	assert.Equal(t, bound, current)
}

func TestSwitchSessionProvider(t *testing.T) {
	disabled := pref("whisper", 3)
	disabled.Enabled = false
	cfg := testConfig(pref("deepgram", 1), pref("assemblyai", 2), disabled)
	cfg.Strategy = orchestrator.StrategyPriorityList
	o := newOrchestrator(t, cfg)
	ctx := context.Background()
	o.SelectProvider(ctx, "call-7")

	ev := o.SwitchSessionProvider(ctx, "call-7", "assemblyai", "customer requested")
	assert.True(t, ev.Success)
	assert.Equal(t, "deepgram", ev.PreviousProvider)
	assert.Equal(t, "customer requested", ev.Reason)
	bound, _ := o.SessionProvider("call-7")
	assert.Equal(t, "assemblyai", bound)

	ev = o.SwitchSessionProvider(ctx, "call-7", "nope", "")
	assert.False(t, ev.Success)
	assert.Contains(t, ev.Error, orchestrator.ErrUnknownProvider.Error())
	assert.Equal(t, "manual", ev.Reason)

	ev = o.SwitchSessionProvider(ctx, "call-7", "whisper", "")
	assert.False(t, ev.Success)
	assert.Contains(t, ev.Error, orchestrator.ErrProviderDisabled.Error())

	bound, _ = o.SessionProvider("call-7")
	assert.Equal(t, "assemblyai", bound)

	ev = o.SwitchSessionProvider(ctx, "call-7", "assemblyai", "")
	assert.True(t, ev.Success, "switching to the bound provider is a no-op")
	assert.Len(t, o.SwitchHistory("call-7"), 4)
}

func TestSwitchSessionProvider_RefusedUnknownSessionLeavesNoEntry(t *testing.T) {
	notifier := &recordingNotifier{}
	o := newOrchestrator(t, testConfig(pref("deepgram", 1)), func(opts *orchestrator.Options) {
		opts.Notifier = notifier
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ev := o.SwitchSessionProvider(ctx, fmt.Sprintf("ghost-%d", i), "nope", "")
		assert.False(t, ev.Success)
	}

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("ghost-%d", i)
		_, ok := o.SessionProvider(id)
		assert.False(t, ok)
		assert.Nil(t, o.SwitchHistory(id), "refused switch of %s is not retained", id)
	}
	assert.Len(t, notifier.all(), 20, "refusals are still reported")

	ev := o.SwitchSessionProvider(ctx, "ghost-0", "deepgram", "")
	require.True(t, ev.Success)
	assert.Len(t, o.SwitchHistory("ghost-0"), 1, "a successful bind creates the session")
}

func TestCleanupSession(t *testing.T) {
	o := newOrchestrator(t, testConfig(pref("deepgram", 1)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		o.SelectProvider(ctx, fmt.Sprintf("call-%d", i))
	}
	o.CleanupSession("call-1")
	o.CleanupSession("call-1")

	_, ok := o.SessionProvider("call-1")
	assert.False(t, ok)
	assert.Nil(t, o.SwitchHistory("call-1"))

	_, ok = o.SessionProvider("call-2")
	assert.True(t, ok, "other sessions are untouched")
}

func TestSwitchHistoryIsBounded(t *testing.T) {
	cfg := testConfig(pref("a", 1), pref("b", 2))
	cfg.SwitchHistorySize = 2
	o := newOrchestrator(t, cfg)
	ctx := context.Background()

	o.SwitchSessionProvider(ctx, "s", "a", "")
	o.SwitchSessionProvider(ctx, "s", "b", "")
	o.SwitchSessionProvider(ctx, "s", "a", "")

	history := o.SwitchHistory("s")
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].NewProvider)
	assert.Equal(t, "a", history[1].NewProvider)
}
