package health

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/voxgate/voxgate/internal/provider/health"

// instruments holds the OpenTelemetry instruments of the probe cycle.
type instruments struct {
	checks        metric.Int64Counter
	probeLatency  metric.Float64Histogram
	cycleDuration metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(meterName)

	checks, err := meter.Int64Counter(
		"voxgate.provider.health.checks",
		metric.WithDescription("Provider health checks by resulting status"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	probeLatency, err := meter.Float64Histogram(
		"voxgate.provider.health.probe.latency",
		metric.WithDescription("Latency of provider health probes"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"voxgate.provider.health.cycle.duration",
		metric.WithDescription("Duration of a full probe cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		checks:        checks,
		probeLatency:  probeLatency,
		cycleDuration: cycleDuration,
	}, nil
}

func (i *instruments) recordCheck(ctx context.Context, r CheckResult) {
	attrs := metric.WithAttributes(
		attribute.String("provider_id", r.ProviderID),
		attribute.String("provider_type", r.ProviderType),
		attribute.String("status", string(r.Status)),
	)
	i.checks.Add(ctx, 1, attrs)
	i.probeLatency.Record(ctx, float64(r.Latency)/float64(1e6), attrs)
}
