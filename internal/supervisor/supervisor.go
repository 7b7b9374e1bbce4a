// Package supervisor runs watchers concurrently and isolates their failures.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/internal/health"
	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
	"github.com/therealutkarshpriyadarshi/livemon/internal/metrics"
	"github.com/therealutkarshpriyadarshi/livemon/internal/watcher"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one watcher
type Result struct {
	Watcher  string
	Kind     string
	Err      error
	Duration time.Duration
}

// Failed reports whether the watcher ended with an error
func (r Result) Failed() bool {
	return r.Err != nil
}

// Supervisor owns a flat list of watchers
type Supervisor struct {
	watchers []watcher.Watcher
	logger   *logging.Logger
	metrics  *metrics.Collector
	health   *health.Checker
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithMetrics maintains the running watchers gauge and failure counter
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Supervisor) { s.metrics = c }
}

// WithHealth registers a health check per watcher
func WithHealth(c *health.Checker) Option {
	return func(s *Supervisor) { s.health = c }
}

// New creates a supervisor
func New(watchers []watcher.Watcher, logger *logging.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		watchers: watchers,
		logger:   logger.WithComponent("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts every watcher and blocks until all of them return. A failing
// watcher does not stop its siblings; only ctx cancellation stops them all.
// Results are returned in completion order.
func (s *Supervisor) Run(ctx context.Context) []Result {
	var g errgroup.Group
	results := make(chan Result, len(s.watchers))

	s.logger.Info().Int("watchers", len(s.watchers)).Msg("Starting watchers")

	names := make(map[string]int, len(s.watchers))
	for _, w := range s.watchers {
		task := s.track(w, names)
		g.Go(func() error {
			results <- s.runOne(ctx, w, task)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	report := make([]Result, 0, len(s.watchers))
	for r := range results {
		if r.Failed() {
			s.logger.Error().
				Err(r.Err).
				Str("watcher_type", r.Kind).
				Str("watcher", r.Watcher).
				Dur("duration", r.Duration).
				Msg("Watcher failed")
		} else {
			s.logger.Debug().
				Str("watcher_type", r.Kind).
				Str("watcher", r.Watcher).
				Dur("duration", r.Duration).
				Msg("Watcher finished")
		}
		report = append(report, r)
	}

	s.logger.Info().
		Int("watchers", len(report)).
		Int("failed", len(Failures(report))).
		Msg("All watchers finished")

	return report
}

// track registers a health check for w under a unique name
func (s *Supervisor) track(w watcher.Watcher, names map[string]int) *health.TaskStatus {
	task := &health.TaskStatus{}
	if s.health == nil {
		return task
	}

	name := fmt.Sprintf("watcher:%s:%s", w.Kind(), w.Name())
	names[name]++
	if n := names[name]; n > 1 {
		name = fmt.Sprintf("%s#%d", name, n)
	}

	s.health.Register(name, task.Check(map[string]interface{}{
		"watcher_type": w.Kind(),
		"watcher":      w.Name(),
	}))
	return task
}

func (s *Supervisor) runOne(ctx context.Context, w watcher.Watcher, task *health.TaskStatus) (result Result) {
	start := time.Now()
	result = Result{Watcher: w.Name(), Kind: w.Kind()}

	task.Set(health.StateRunning, nil)
	if s.metrics != nil {
		s.metrics.WatchersRunning.WithLabelValues(w.Kind()).Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("watcher panicked: %v", r)
		}
		result.Duration = time.Since(start)

		if s.metrics != nil {
			s.metrics.WatchersRunning.WithLabelValues(w.Kind()).Dec()
		}
		if result.Err != nil {
			task.Set(health.StateFailed, result.Err)
			if s.metrics != nil {
				s.metrics.WatcherFailures.WithLabelValues(w.Kind(), failureReason(result.Err)).Inc()
			}
			return
		}
		task.Set(health.StateCompleted, nil)
	}()

	result.Err = w.Run(ctx)
	return result
}

// Failures returns the failed results
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}

// failureReason maps a watcher error to a bounded metric label
func failureReason(err error) string {
	switch {
	case errors.Is(err, types.ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, types.ErrConfiguration):
		return "configuration"
	default:
		return "other"
	}
}
