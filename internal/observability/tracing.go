// Package observability exports traces over OTLP HTTP to a local collector
// agent. The agent owns authentication, buffering, and forwarding, so the
// application never holds backend credentials.
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/amanahlabs/fiqhbridge/internal/log"
)

// DefaultEndpoint is the conventional local OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Config for trace export.
type Config struct {
	// Endpoint is the collector's OTLP HTTP host:port.
	Endpoint string
	// ServiceName identifies the service in the tracing backend.
	ServiceName string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
}

// Setup registers an OTLP exporter with the generation runtime's tracer
// provider, so engine spans and application spans share one pipeline.
//
// Returns a shutdown function that flushes pending spans. A collector that
// cannot be reached disables tracing instead of failing startup.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (func(context.Context) error, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// The runtime's TracerProvider reads service identity from the OTEL
	// environment during span creation.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local agent, no TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	// Application spans (otel.Tracer) join the same pipeline as the
	// generation runtime's own spans.
	otel.SetTracerProvider(tracing.TracerProvider())

	logger.Debug("trace export enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
	)

	return tracing.TracerProvider().Shutdown, nil
}

// Tracer returns the tracer used for bridge-level spans (engine construction,
// native calls, streams). Spans are no-ops until Setup succeeds.
func Tracer() trace.Tracer {
	return otel.Tracer("fiqhbridge")
}
