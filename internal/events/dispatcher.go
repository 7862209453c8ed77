// Package events delivers session provider switch events to external sinks
// and receives operator commands over Pub/Sub.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxgate/voxgate/internal/provider/orchestrator"
	"github.com/voxgate/voxgate/internal/provider/resilience"
)

const meterName = "github.com/voxgate/voxgate/internal/events"

// ErrAlreadyRunning is returned by Start on a running dispatcher.
var ErrAlreadyRunning = errors.New("dispatcher already running")

// Sink persists or forwards switch events.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev orchestrator.ProviderSwitchEvent) error
}

// DispatcherConfig holds configuration for a Dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the number of undelivered events.
	// Default: 256
	QueueSize int

	// DrainTimeout bounds delivery of queued events during Stop.
	// Default: 5 seconds
	DrainTimeout time.Duration

	// Guard configures the breaker and retries wrapped around every sink.
	// Name is replaced with the sink name.
	// Default: resilience.DefaultGuardConfig
	Guard *resilience.GuardConfig

	Sinks  []Sink
	Logger zerolog.Logger
}

// DispatcherStats counts dispatcher outcomes.
type DispatcherStats struct {
	Queued    int    `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

type guardedSink struct {
	sink  Sink
	guard *resilience.Guard
}

// Dispatcher fans switch events out to sinks on a background goroutine.
// NotifySwitch never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	queue        chan orchestrator.ProviderSwitchEvent
	sinks        []guardedSink
	drainTimeout time.Duration
	logger       zerolog.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	deliveries metric.Int64Counter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ orchestrator.SwitchNotifier = (*Dispatcher)(nil)

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}

	deliveries, err := otel.Meter(meterName).Int64Counter(
		"voxgate.events.deliveries",
		metric.WithDescription("Switch event deliveries by sink and outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		queue:        make(chan orchestrator.ProviderSwitchEvent, cfg.QueueSize),
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger.With().Str("component", "event_dispatcher").Logger(),
		deliveries:   deliveries,
	}

	for _, s := range cfg.Sinks {
		guardCfg := resilience.DefaultGuardConfig(s.Name())
		if cfg.Guard != nil {
			guardCfg = *cfg.Guard
			guardCfg.Name = s.Name()
		}
		guardCfg.OnStateChange = d.onGuardStateChange
		d.sinks = append(d.sinks, guardedSink{sink: s, guard: resilience.NewGuard(guardCfg)})
	}
	return d, nil
}

func (d *Dispatcher) onGuardStateChange(name string, from, to gobreaker.State) {
	d.logger.Warn().
		Str("sink", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("event sink breaker state changed")
}

// NotifySwitch enqueues ev for delivery.
func (d *Dispatcher) NotifySwitch(ev orchestrator.ProviderSwitchEvent) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn().
			Str("event_id", ev.ID).
			Str("session_id", ev.SessionID).
			Msg("event queue full, dropping switch event")
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	d.logger.Info().Int("sinks", len(d.sinks)).Msg("starting event dispatcher")

	go d.run(loopCtx, d.done)
	return nil
}

// Stop ends the delivery goroutine, then delivers whatever is still queued
// within the drain timeout.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			d.logger.Info().Msg("event dispatcher stopped")
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			// An event already dequeued is delivered even if Stop races it.
			d.deliver(context.WithoutCancel(ctx), ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev orchestrator.ProviderSwitchEvent) {
	for _, gs := range d.sinks {
		err := gs.guard.Do(ctx, func(ctx context.Context) error {
			return gs.sink.Write(ctx, ev)
		})

		outcome := "delivered"
		if err != nil {
			outcome = "failed"
			d.failed.Add(1)
			d.logger.Error().
				Err(err).
				Str("sink", gs.sink.Name()).
				Str("event_id", ev.ID).
				Str("session_id", ev.SessionID).
				Msg("failed to deliver switch event")
		} else {
			d.delivered.Add(1)
		}
		d.deliveries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("sink", gs.sink.Name()),
			attribute.String("outcome", outcome),
		))
	}
}

// Stats returns the dispatcher counters. Delivered and Failed count
// per-sink deliveries.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:    len(d.queue),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}
