package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/internal/provider/resilience"
)

func fastGuardConfig(name string) resilience.GuardConfig {
	cfg := resilience.DefaultGuardConfig(name)
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	cfg.ReadyToTrip = func(gobreaker.Counts) bool { return false }
	return cfg
}

func TestNewGuard_Defaults(t *testing.T) {
	g := resilience.NewGuard(resilience.GuardConfig{Name: "audit-postgres"})

	assert.Equal(t, "audit-postgres", g.Name())
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuard_Do_Success(t *testing.T) {
	g := resilience.NewGuard(fastGuardConfig("sink"))
	calls := 0

	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuard_Do_RetriesTransientFailures(t *testing.T) {
	g := resilience.NewGuard(fastGuardConfig("sink"))
	calls := 0

	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuard_Do_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := fastGuardConfig("sink")
	cfg.MaxRetries = 2
	g := resilience.NewGuard(cfg)
	calls := 0
	sentinel := errors.New("broker down")

	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestGuard_Do_OpenBreakerRejects(t *testing.T) {
	cfg := fastGuardConfig("sink")
	cfg.MaxRetries = 0
	cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 2
	}
	g := resilience.NewGuard(cfg)
	calls := 0
	fail := func(context.Context) error {
		calls++
		return errors.New("down")
	}

	_ = g.Do(context.Background(), fail)
	_ = g.Do(context.Background(), fail)
	require.Equal(t, gobreaker.StateOpen, g.State())

	err := g.Do(context.Background(), fail)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestGuard_Do_AttemptTimeout(t *testing.T) {
	cfg := fastGuardConfig("sink")
	cfg.MaxRetries = 0
	cfg.Timeout = 10 * time.Millisecond
	g := resilience.NewGuard(cfg)

	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"too few requests", gobreaker.Counts{Requests: 4, TotalFailures: 4}, false},
		{"below ratio", gobreaker.Counts{Requests: 10, TotalFailures: 4}, false},
		{"at ratio", gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
		{"all failed", gobreaker.Counts{Requests: 5, TotalFailures: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resilience.DefaultReadyToTrip(tt.counts))
		})
	}
}
