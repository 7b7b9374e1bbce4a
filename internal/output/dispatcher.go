package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
	"github.com/therealutkarshpriyadarshi/livemon/internal/metrics"
	"github.com/therealutkarshpriyadarshi/livemon/internal/reliability"
	"github.com/therealutkarshpriyadarshi/livemon/internal/tracing"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher delivers an event to each of its targets in order. Writes are
// awaited; a failed target is logged and skipped so later targets still
// receive the event.
type Dispatcher struct {
	sinks   map[types.TargetKind]Sink
	logger  *logging.Logger
	metrics *metrics.Collector
	retry   *reliability.RetryConfig
	tracer  trace.Tracer
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithMetrics records sink metrics on the collector
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = c }
}

// WithRetry retries failed writes. A config with MaxRetries of zero is ignored.
func WithRetry(cfg reliability.RetryConfig) Option {
	return func(d *Dispatcher) {
		if cfg.MaxRetries > 0 {
			d.retry = &cfg
		}
	}
}

// WithTracer creates spans for each dispatch
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher creates a dispatcher over one sink per target kind
func NewDispatcher(sinks map[types.TargetKind]Sink, logger *logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:  sinks,
		logger: logger.WithComponent("dispatcher"),
		tracer: tracing.Noop().Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch writes doc to every target. The returned error joins the
// failures of individual targets; callers treat it as informational.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, doc types.Document, targets []types.Target) error {
	if len(targets) == 0 {
		return nil
	}

	ctx, span := tracing.TraceDispatch(ctx, d.tracer, event, len(targets))
	defer span.End()

	var errs []error
	for _, target := range targets {
		if err := d.write(ctx, doc, target); err != nil {
			err = fmt.Errorf("event %q target %s: %w", event, target.Type, err)
			errs = append(errs, err)

			d.logger.Error().
				Err(err).
				Str("event", event).
				Str("target", string(target.Type)).
				Msg("Failed to write event to sink")
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "sink write failed")
		return err
	}
	return nil
}

func (d *Dispatcher) write(ctx context.Context, doc types.Document, target types.Target) error {
	sink, ok := d.sinks[target.Type]
	if !ok {
		d.recordFailure(string(target.Type), "no_sink")
		return fmt.Errorf("%w: no sink configured for target type %q", types.ErrSinkWrite, target.Type)
	}

	name := sink.Name()
	ctx, span := tracing.TraceSink(ctx, d.tracer, name)
	defer span.End()

	start := time.Now()
	err := d.attempt(ctx, sink, doc, target)
	if d.metrics != nil {
		d.metrics.SinkDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		span.RecordError(err)
		reason := "write"
		if ctx.Err() != nil {
			reason = "canceled"
		}
		d.recordFailure(name, reason)
		return err
	}

	if d.metrics != nil {
		d.metrics.SinkWrites.WithLabelValues(name).Inc()
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, sink Sink, doc types.Document, target types.Target) error {
	if d.retry == nil {
		return sink.Write(ctx, doc, target)
	}

	cfg := *d.retry
	cfg.OnRetry = func(attempt int, err error) {
		if d.metrics != nil {
			d.metrics.SinkRetries.WithLabelValues(sink.Name()).Inc()
		}
		d.logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Str("sink", sink.Name()).
			Msg("Retrying sink write")
	}

	return reliability.Retry(ctx, cfg, func(ctx context.Context) error {
		return sink.Write(ctx, doc, target)
	})
}

func (d *Dispatcher) recordFailure(sink, reason string) {
	if d.metrics != nil {
		d.metrics.SinkFailures.WithLabelValues(sink, reason).Inc()
	}
}

// Close closes every sink
func (d *Dispatcher) Close() error {
	var errs []error
	for kind, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}
