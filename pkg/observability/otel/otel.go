// Package otel configures OpenTelemetry tracing for the sink.
package otel

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
)

// InstrumentationName names the tracer used by the sink packages.
const InstrumentationName = "github.com/fluxorio/fluxsink"

// Config holds tracing settings
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Exporter is "stdout", "zipkin" or "none"
	Exporter string
	// Endpoint is the zipkin collector URL, e.g. http://localhost:9411/api/v2/spans
	Endpoint string
	// SampleRate in [0,1]; 0 means 1
	SampleRate float64
	// Writer receives stdout spans. Defaults to os.Stdout.
	Writer io.Writer
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Initialize installs a global tracer provider. Calling it again replaces
// the previous provider after shutting it down.
func Initialize(ctx context.Context, cfg Config) error {
	exp, err := newExporter(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		_ = provider.Shutdown(ctx)
		provider = nil
	}
	if exp == nil {
		gootel.SetTracerProvider(noop.NewTracerProvider())
		return nil
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName(cfg))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	gootel.SetTracerProvider(tp)
	provider = tp
	return nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, core.WrapConfig("trace", err)
		}
		return exp, nil
	case ExporterZipkin:
		if cfg.Endpoint == "" {
			return nil, core.ConfigError("trace_endpoint", "zipkin exporter needs an endpoint")
		}
		exp, err := zipkin.New(cfg.Endpoint)
		if err != nil {
			return nil, core.WrapConfig("trace_endpoint", err)
		}
		return exp, nil
	default:
		return nil, core.ConfigError("trace", "unknown exporter %q", cfg.Exporter)
	}
}

func serviceName(cfg Config) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "fluxsink"
}

// IsInitialized reports whether an exporting provider is installed.
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return provider != nil
}

// Shutdown flushes pending spans and uninstalls the provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	gootel.SetTracerProvider(noop.NewTracerProvider())
	return tp.Shutdown(ctx)
}

// Tracer returns the sink tracer from the global provider.
func Tracer() trace.Tracer {
	return gootel.Tracer(InstrumentationName)
}
