// Package pipeline turns a validated configuration into watchers and sinks.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/internal/executor"
	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
	"github.com/therealutkarshpriyadarshi/livemon/internal/metrics"
	"github.com/therealutkarshpriyadarshi/livemon/internal/output"
	"github.com/therealutkarshpriyadarshi/livemon/internal/reliability"
	"github.com/therealutkarshpriyadarshi/livemon/internal/watcher"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
	"go.opentelemetry.io/otel/trace"
)

// Options holds the collaborators shared by every watcher
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	// Runner executes commands. Defaults to a /bin/sh runner.
	Runner executor.Runner
	// Stdout receives the stdout sink output. Defaults to os.Stdout.
	Stdout io.Writer
	// Sinks overrides sink construction, keyed by target kind
	Sinks map[types.TargetKind]output.Sink
}

// Pipeline is the set of watchers built from a configuration and the
// dispatcher they share
type Pipeline struct {
	Watchers   []watcher.Watcher
	Dispatcher *output.Dispatcher
}

// Build creates sinks for the referenced target kinds, then one log watcher
// per matched path and log config, and one command watcher per command event.
// cfg must have passed Validate.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Runner == nil {
		opts.Runner = executor.NewShellRunner()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	logger := opts.Logger.WithComponent("pipeline")

	sinks, err := NewSinks(ctx, cfg.Sinks, cfg.TargetKinds(), opts.Stdout, opts.Sinks)
	if err != nil {
		return nil, err
	}

	dispatchOpts := []output.Option{
		output.WithRetry(reliability.RetryConfig{
			MaxRetries:     cfg.Sinks.Retry.MaxRetries,
			InitialBackoff: cfg.Sinks.Retry.InitialBackoff,
			MaxBackoff:     cfg.Sinks.Retry.MaxBackoff,
			Multiplier:     2.0,
			Jitter:         true,
		}),
	}
	var watcherOpts []watcher.Option
	if opts.Metrics != nil {
		dispatchOpts = append(dispatchOpts, output.WithMetrics(opts.Metrics))
		watcherOpts = append(watcherOpts, watcher.WithMetrics(opts.Metrics))
	}
	if opts.Tracer != nil {
		dispatchOpts = append(dispatchOpts, output.WithTracer(opts.Tracer))
		watcherOpts = append(watcherOpts, watcher.WithTracer(opts.Tracer))
	}

	dispatcher := output.NewDispatcher(sinks, opts.Logger, dispatchOpts...)
	p := &Pipeline{Dispatcher: dispatcher}

	for i := range cfg.LogConfigs {
		lc := &cfg.LogConfigs[i]

		paths, err := ExpandPaths(lc.Path)
		if err != nil {
			dispatcher.Close()
			return nil, err
		}
		if len(paths) == 0 {
			logger.Warn().Str("pattern", lc.Path).Msg("No files match log path")
			continue
		}

		events := make([]watcher.LogEvent, len(lc.Events))
		for j := range lc.Events {
			ev := &lc.Events[j]
			if ev.Rule() == nil {
				dispatcher.Close()
				return nil, fmt.Errorf("%w: event %q has no compiled rule", types.ErrConfiguration, ev.Name)
			}
			events[j] = watcher.LogEvent{Rule: ev.Rule(), Targets: ev.Targets}
		}

		for _, path := range paths {
			p.Watchers = append(p.Watchers, watcher.NewLogWatcher(watcher.LogConfig{
				Path:            path,
				Events:          events,
				PollInterval:    cfg.Follower.PollInterval,
				DisableFSNotify: cfg.Follower.DisableFSNotify,
			}, dispatcher, opts.Logger, watcherOpts...))
		}
	}

	for _, cc := range cfg.CmdConfigs {
		for _, ev := range cc.Events {
			p.Watchers = append(p.Watchers, watcher.NewCommandWatcher(watcher.CommandConfig{
				Name:       ev.Name,
				Command:    ev.Command,
				WorkingDir: ev.Chdir,
				Repeat:     ev.Repeat,
				Targets:    ev.Targets,
			}, opts.Runner, dispatcher, opts.Logger, watcherOpts...))
		}
	}

	logger.Info().
		Int("watchers", len(p.Watchers)).
		Int("sinks", len(sinks)).
		Msg("Pipeline built")

	return p, nil
}

// Close closes the sinks
func (p *Pipeline) Close() error {
	return p.Dispatcher.Close()
}

// ExpandPaths resolves a log path pattern, including "**", to the regular
// files it matches. A path without glob syntax is returned as is so that a
// missing file is reported by its watcher.
func ExpandPaths(pattern string) ([]string, error) {
	if !hasMeta(pattern) {
		return []string{pattern}, nil
	}

	if !doublestar.ValidatePathPattern(pattern) {
		return nil, fmt.Errorf("%w: invalid path pattern %q", types.ErrConfiguration, pattern)
	}

	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: expanding %q: %v", types.ErrSourceUnavailable, pattern, err)
	}
	return paths, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[{\`)
}
