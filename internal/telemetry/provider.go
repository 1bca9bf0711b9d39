// Package telemetry configures OpenTelemetry tracing for the proxy.
package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds configuration options for tracing
type Config struct {
	// Endpoint is the OTLP/HTTP collector URL. Tracing is off when empty.
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Verbose        bool
}

// Setup installs a global tracer provider exporting to the configured
// endpoint. Without an endpoint it leaves the no-op provider in place.
// The returned function flushes pending spans.
func Setup(ctx context.Context, config *Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if config == nil || config.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(config.Endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if config.Verbose {
		log.Printf("Tracing enabled, exporting to %s", config.Endpoint)
	}
	return tp.Shutdown, nil
}
