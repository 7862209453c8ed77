package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxgate/voxgate/internal/provider/resilience"
)

// CallProviderWithBreaker runs op through the breaker of providerID and
// records the outcome. Errors carry a resilience.ErrorKind: a rejected call
// is KindBreakerOpen and op was not invoked; a failed op is
// KindProviderFailure and unwraps to op's error. With breakers disabled op is
// called directly and failures are still wrapped.
//
// On any error the caller should move on to the next entry of the
// selection's FallbackProviders.
func CallProviderWithBreaker[T any](ctx context.Context, o *Orchestrator, providerID string, op resilience.Operation[T]) (T, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CallProvider",
		trace.WithAttributes(attribute.String("provider_id", providerID)))
	defer span.End()

	var zero T
	if err := o.knownProvider(providerID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	var (
		result T
		err    error
	)
	if o.config.CircuitBreakerEnabled {
		result, err = resilience.Call(ctx, o.breakers, providerID, op)
	} else {
		result, err = op(ctx)
		if err != nil {
			err = &resilience.ProviderError{ProviderID: providerID, Cause: err}
		}
	}

	kind := resilience.KindOf(err)
	o.instruments.recordCall(ctx, providerID, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		o.logger.Debug().
			Str("provider_id", providerID).
			Str("kind", kind.String()).
			Err(err).
			Msg("provider call failed")
		return result, err
	}
	return result, nil
}
