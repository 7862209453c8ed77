package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxgate/voxgate/internal/provider/resilience"
)

const (
	meterName  = "github.com/voxgate/voxgate/internal/provider/orchestrator"
	tracerName = meterName
)

type instruments struct {
	selections         metric.Int64Counter
	switches           metric.Int64Counter
	calls              metric.Int64Counter
	breakerTransitions metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(meterName)

	selections, err := meter.Int64Counter(
		"voxgate.provider.selections",
		metric.WithDescription("Provider selection decisions"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		return nil, err
	}

	switches, err := meter.Int64Counter(
		"voxgate.provider.switches",
		metric.WithDescription("Session provider switches and failed failovers"),
		metric.WithUnit("{switch}"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter(
		"voxgate.provider.calls",
		metric.WithDescription("Provider calls routed through circuit breakers, by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	breakerTransitions, err := meter.Int64Counter(
		"voxgate.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		selections:         selections,
		switches:           switches,
		calls:              calls,
		breakerTransitions: breakerTransitions,
	}, nil
}

func (i *instruments) recordSelection(ctx context.Context, sel ProviderSelection) {
	i.selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider_id", sel.ProviderID),
		attribute.String("strategy", string(sel.Strategy)),
		attribute.Bool("degraded", sel.Degraded),
	))
}

func (i *instruments) recordSwitch(ctx context.Context, ev ProviderSwitchEvent) {
	i.switches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("new_provider", ev.NewProvider),
		attribute.String("reason", ev.Reason),
		attribute.Bool("success", ev.Success),
	))
}

func (i *instruments) recordCall(ctx context.Context, providerID string, kind resilience.ErrorKind) {
	i.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("outcome", kind.String()),
	))
}

func (i *instruments) recordTransition(providerID string, from, to resilience.State) {
	i.breakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
