// Package tracing configures opt-in OpenTelemetry tracing. Spans are exported
// only when OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise the global no-op
// provider stays in place and instrumented code pays almost nothing.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/rafaeljc/heimdall-local/internal/config"
)

// EndpointEnv enables tracing when set.
const EndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Init installs a global tracer provider with an OTLP/HTTP exporter. The
// returned function flushes pending spans and must be called on shutdown.
func Init(ctx context.Context, app *config.AppConfig) (shutdown func(context.Context) error, err error) {
	if strings.TrimSpace(os.Getenv(EndpointEnv)) == "" {
		return func(context.Context) error { return nil }, nil
	}

	serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	if serviceName == "" && app != nil {
		serviceName = app.Name
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	}
	if app != nil {
		attrs = append(attrs, resource.WithAttributes(
			semconv.ServiceVersion(app.Version),
			semconv.DeploymentEnvironment(app.Environment),
		))
	}

	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	res, err = resource.Merge(resource.Default(), res)
	if err != nil {
		return nil, fmt.Errorf("merge resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
