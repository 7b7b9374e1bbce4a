package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/therealutkarshpriyadarshi/livemon/internal/follower"
	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
	"github.com/therealutkarshpriyadarshi/livemon/internal/parser"
	"github.com/therealutkarshpriyadarshi/livemon/internal/tracing"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
	"golang.org/x/time/rate"
)

// LogEvent pairs a rule with the targets its events go to
type LogEvent struct {
	Rule    *parser.Rule
	Targets []types.Target
}

// LogConfig describes one followed file
type LogConfig struct {
	Path            string
	Events          []LogEvent
	PollInterval    time.Duration
	DisableFSNotify bool
}

// LogWatcher follows one file and emits at most one event per line
type LogWatcher struct {
	cfg        LogConfig
	extractor  *parser.Extractor
	dispatcher Dispatcher
	logger     *logging.Logger
	deps

	parseErrLog rate.Sometimes
}

// NewLogWatcher creates a watcher for cfg.Path. Rules are tried in the
// order of cfg.Events.
func NewLogWatcher(cfg LogConfig, dispatcher Dispatcher, logger *logging.Logger, opts ...Option) *LogWatcher {
	rules := make([]*parser.Rule, len(cfg.Events))
	for i, ev := range cfg.Events {
		rules[i] = ev.Rule
	}

	return &LogWatcher{
		cfg:         cfg,
		extractor:   parser.NewExtractor(rules...),
		dispatcher:  dispatcher,
		logger:      logger.WithWatcher(KindLog, cfg.Path),
		deps:        newDeps(opts),
		parseErrLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Name returns the followed path
func (w *LogWatcher) Name() string {
	return w.cfg.Path
}

// Kind returns KindLog
func (w *LogWatcher) Kind() string {
	return KindLog
}

// Run reads the file from the beginning and keeps following it until ctx is
// cancelled. Failing to open the file is reported as ErrSourceUnavailable.
func (w *LogWatcher) Run(ctx context.Context) error {
	f, err := os.Open(w.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err)
	}
	defer f.Close()

	var wake <-chan struct{}
	if !w.cfg.DisableFSNotify {
		ch, stop, err := watchWrites(ctx, w.cfg.Path)
		if err != nil {
			w.logger.Warn().Err(err).Msg("File notifications unavailable, polling only")
		} else {
			defer stop()
			wake = ch
		}
	}

	fol := follower.New(f, follower.Config{
		PollInterval: w.cfg.PollInterval,
		Wake:         wake,
	})

	w.logger.Info().Int("rules", len(w.cfg.Events)).Msg("Log watcher started")

	for {
		line, err := fol.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info().Msg("Log watcher stopped")
				return nil
			}
			return fmt.Errorf("%w: reading %s: %v", types.ErrSourceUnavailable, w.cfg.Path, err)
		}

		if w.metrics != nil {
			w.metrics.LinesRead.WithLabelValues(w.cfg.Path).Inc()
			w.metrics.BytesRead.WithLabelValues(w.cfg.Path).Add(float64(len(line)))
		}

		w.handleLine(ctx, line)
	}
}

func (w *LogWatcher) handleLine(ctx context.Context, line string) {
	ctx, span := tracing.TraceExtract(ctx, w.tracer, w.cfg.Path)
	defer span.End()

	start := time.Now()
	match, err := w.extractor.Extract(line)
	if w.metrics != nil {
		w.metrics.ExtractDuration.WithLabelValues(w.cfg.Path).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		span.RecordError(err)
		name := ""
		if match != nil {
			name = match.Rule.Name()
		}
		if w.metrics != nil {
			w.metrics.ParseErrors.WithLabelValues(name).Inc()
		}
		if errors.Is(err, types.ErrMalformedEventData) {
			w.parseErrLog.Do(func() {
				w.logger.Warn().Err(err).Str("event", name).Msg("Discarding line with malformed event data")
			})
			return
		}
		w.logger.Error().Err(err).Str("event", name).Msg("Failed to extract event")
		return
	}

	if match == nil {
		if w.metrics != nil {
			w.metrics.LinesUnmatched.WithLabelValues(w.cfg.Path).Inc()
		}
		return
	}

	name := match.Rule.Name()
	if w.metrics != nil {
		w.metrics.EventsExtracted.WithLabelValues(name).Inc()
	}

	// Failures are logged and counted by the dispatcher
	_ = w.dispatcher.Dispatch(ctx, name, match.Document, w.cfg.Events[match.Index].Targets)
}

// watchWrites returns a channel that receives a value, coalesced, whenever
// path is written to. stop releases the underlying watch.
func watchWrites(ctx context.Context, path string) (<-chan struct{}, func(), error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	wake := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	stop := func() {
		fw.Close()
		<-done
	}

	return wake, stop, nil
}
