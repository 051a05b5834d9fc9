// Package telemetry wires OpenTelemetry tracing for the storefront. Every
// HTTP surface (intents, webhook, recipes, purchases) is wrapped with
// otelhttp; this package owns the exporter and provider lifecycle.
package telemetry

import (
	"context"
	"log"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// InitTracer installs a global OTLP/HTTP trace provider and returns its
// shutdown function. The endpoint comes from
// OTEL_EXPORTER_OTLP_TRACES_ENDPOINT as either a full URL or host:port.
func InitTracer(serviceName string) func() {
	ctx := context.Background()

	endpoint, path, insecure := resolveEndpoint(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"))

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithURLPath(path),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		log.Fatalf("Failed to create OTLP exporter: %v", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		log.Fatalf("Failed to create resource: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		// Sample everything; purchase traffic is low-volume.
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(1.0)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Printf("OpenTelemetry initialized for service: %s", serviceName)

	return func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}
}

func resolveEndpoint(raw string) (endpoint, path string, insecure bool) {
	endpoint, path, insecure = "localhost:4318", "/v1/traces", true
	if raw == "" {
		return
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil {
			if u.Host != "" {
				endpoint = u.Host
			}
			if u.Path != "" {
				path = u.Path
			}
			insecure = u.Scheme == "http"
		}
		return
	}
	// host:port form
	endpoint = raw
	return
}
