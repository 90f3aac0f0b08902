package fileout

import (
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/fluxsink/pkg/core"
	"github.com/fluxorio/fluxsink/pkg/format"
	prom "github.com/fluxorio/fluxsink/pkg/observability/prometheus"
)

// Option customizes an Output.
type Option func(*Output)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l core.Logger) Option {
	return func(o *Output) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records sink metrics into m.
func WithMetrics(m *prom.Metrics) Option {
	return func(o *Output) { o.metrics = m }
}

// WithFs replaces the OS filesystem. Off the OS filesystem, directory
// writability is judged from permission bits.
func WithFs(fs afero.Fs) Option {
	return func(o *Output) {
		if fs != nil {
			o.fs = fs
		}
	}
}

// WithClock sets the clock used to stamp chunk creation.
func WithClock(now func() time.Time) Option {
	return func(o *Output) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFormatter replaces the configured record formatter.
func WithFormatter(f format.Formatter) Option {
	return func(o *Output) { o.formatter = f }
}

// WithTracer sets the tracer used for flush spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Output) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithFlushCallback calls fn after every successful flush with the bucket
// key and the path written. fn runs on the flushing goroutine.
func WithFlushCallback(fn func(key, path string)) Option {
	return func(o *Output) { o.onFlush = fn }
}
