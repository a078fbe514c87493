// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/docker/agentloop/pkg/version"
)

const (
	AppName        = "agentloop"
	instrumentName = "github.com/docker/agentloop"
)

type Options struct {
	// Endpoint is the OTLP/HTTP collector (host:port). Spans are only
	// exported when it is set.
	Endpoint string
	Insecure bool
	// Exporter overrides the OTLP exporter.
	Exporter sdktrace.SpanExporter
}

// Init installs a global tracer provider and returns its shutdown function.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	res, err := newResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := opts.Exporter
	if exporter == nil && opts.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	tracerProviderOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		tracerProviderOpts = append(tracerProviderOpts,
			sdktrace.WithBatcher(exporter,
				sdktrace.WithBatchTimeout(5*time.Second),
				sdktrace.WithMaxExportBatchSize(512),
			),
		)
	}

	tp := sdktrace.NewTracerProvider(tracerProviderOpts...)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// newResource describes this service on top of the SDK defaults. The service
// attributes carry no schema URL so they merge with whatever semconv version
// the SDK's default resource uses.
func newResource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(AppName),
			semconv.ServiceVersion(version.Version),
		),
	)
}

// Tracer returns the tracer used across agentloop packages.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentName)
}
