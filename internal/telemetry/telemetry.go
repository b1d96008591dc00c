package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/drummonds/pagextract/internal/build"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ShutdownFunc flushes and stops the installed tracer provider
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer provider for exporter. "none" keeps the
// no-op provider, "stdout" writes finished spans to w as JSON.
func Setup(exporter, service string, w io.Writer) (ShutdownFunc, error) {
	switch exporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("unable to create stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", service),
				attribute.String("service.version", build.Version),
			)),
		)
		otel.SetTracerProvider(tp)
		Logger.Info("Tracing enabled", "exporter", exporter, "service", service)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (supported: none, stdout)", exporter)
	}
}
