// Package watcher turns log files and shell commands into streams of events
// delivered to sinks.
package watcher

import (
	"context"

	"github.com/therealutkarshpriyadarshi/livemon/internal/metrics"
	"github.com/therealutkarshpriyadarshi/livemon/internal/tracing"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
	"go.opentelemetry.io/otel/trace"
)

// Watcher kinds
const (
	KindLog     = "log"
	KindCommand = "command"
)

// Watcher is a long-running source of events. Run blocks until the source is
// exhausted, ctx is cancelled (nil error) or the source fails.
type Watcher interface {
	Name() string
	Kind() string
	Run(ctx context.Context) error
}

// Dispatcher delivers one event to its targets
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, doc types.Document, targets []types.Target) error
}

// Option configures a watcher
type Option func(*deps)

type deps struct {
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// WithMetrics records watcher metrics on the collector
func WithMetrics(c *metrics.Collector) Option {
	return func(d *deps) { d.metrics = c }
}

// WithTracer creates spans for extraction and command runs
func WithTracer(t trace.Tracer) Option {
	return func(d *deps) { d.tracer = t }
}

func newDeps(opts []Option) deps {
	d := deps{tracer: tracing.Noop().Tracer()}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}
