// Package dsengine ties the update engine's packages together: a
// tracer provider suitable for local/dev use, and the small helpers an
// embedder needs to drive a Manager end to end.
package dsengine

import (
	"context"

	"github.com/google/uuid"
	"github.com/nodefleet/dsengine/datasource"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewDevTracerProvider builds a TracerProvider that writes spans to
// stdout as pretty-printed JSON. It is meant for local development and
// the example wiring in tests, not production: an embedder running in
// production registers its own OTLP-exporting provider via
// otel.SetTracerProvider and dsengine's tracers (httpfetch.NewFetcher)
// pick it up automatically, since they resolve their tracer from the
// globally registered provider.
func NewDevTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// NewUpdateCause stamps an UpdateCause with a fresh modification id, the
// way every property write needs one for audit regardless of which
// event triggered it.
func NewUpdateCause(actor, reason string) datasource.UpdateCause {
	return datasource.UpdateCause{
		ModificationID: uuid.NewString(),
		Actor:          actor,
		Reason:         reason,
	}
}
