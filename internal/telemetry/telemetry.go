// Package telemetry wires OpenTelemetry tracing and metrics. Spans
// and measurements go to stdout exporters; a collector can replace
// them without touching the call sites.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"carepool/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Telemetry struct {
	enabled        bool
	serviceName    string
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// New builds the global tracer and meter providers. A disabled config
// yields an inert Telemetry whose Shutdown is a no-op.
func New(cfg config.TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{
		enabled:     cfg.Enabled,
		serviceName: cfg.ServiceName,
	}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to build resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create trace exporter: %w", err)
	}
	t.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(t.tracerProvider)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create metric exporter: %w", err)
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(t.meterProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return t.meterProvider.Shutdown(ctx)
}
