// Package tracing configures OpenTelemetry tracing.
//
// Spans are created throughout watchdo with the global tracer provider, so
// they cost nothing until [NewProvider] installs an exporting provider.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter selects where spans are sent.
type Exporter string

// Supported exporters.
const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
	ExporterFile   Exporter = "file"
	ExporterOTLP   Exporter = "otlp"
)

// AllExporters lists the supported exporters.
var AllExporters = []Exporter{ExporterNone, ExporterStdout, ExporterFile, ExporterOTLP}

const (
	// DefaultOTLPEndpoint is the default OTLP gRPC collector endpoint.
	DefaultOTLPEndpoint = "localhost:4317"

	// DefaultServiceName identifies watchdo in traces.
	DefaultServiceName = "watchdo"
)

var (
	// ErrUnknownExporter is returned for unsupported exporter names.
	ErrUnknownExporter = errors.New("unknown trace exporter")

	// ErrMissingFilePath is returned when the file exporter has no path.
	ErrMissingFilePath = errors.New("file path required for file exporter")
)

// Config configures the tracer provider.
type Config struct {
	// Writer receives spans for [ExporterStdout]. Defaults to [os.Stdout].
	Writer io.Writer
	// Exporter selects the export backend.
	Exporter Exporter
	// Endpoint is the collector address for [ExporterOTLP], or the output
	// file for [ExporterFile].
	Endpoint string
	// ServiceName identifies this process in traces.
	ServiceName string
}

// Provider owns the installed tracer provider.
type Provider struct {
	provider *sdktrace.TracerProvider
	closer   io.Closer
}

// NewProvider creates a tracer provider for cfg and installs it as the
// global provider. With [ExporterNone] nothing is installed.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	var (
		exporter sdktrace.SpanExporter
		closer   io.Closer
		err      error
	)

	switch cfg.Exporter {
	case ExporterNone, "":
		return &Provider{}, nil

	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}

		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())

	case ExporterFile:
		if cfg.Endpoint == "" {
			return nil, ErrMissingFilePath
		}

		var f *os.File

		f, err = openTraceFile(cfg.Endpoint)
		if err != nil {
			return nil, err
		}

		closer = f
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(f))

	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultOTLPEndpoint
		}

		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.Exporter)
	}

	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, closer: closer}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.provider != nil
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}

	err := p.provider.Shutdown(ctx)
	if p.closer != nil {
		err = errors.Join(err, p.closer.Close())
	}

	if err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}

	return nil
}

func openTraceFile(path string) (*os.File, error) {
	path = filepath.Clean(path)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	return f, nil
}
