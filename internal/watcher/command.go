package watcher

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/internal/executor"
	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
	"github.com/therealutkarshpriyadarshi/livemon/internal/tracing"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// CommandConfig describes one monitored command
type CommandConfig struct {
	Name       string
	Command    string
	WorkingDir *string
	// Repeat is the pause in seconds between runs. Nil runs the command once;
	// any other value repeats until cancelled.
	Repeat  *float64
	Targets []types.Target
}

// CommandWatcher runs a command, once or on a fixed pause, and emits one
// event per completed run. Runs never overlap.
type CommandWatcher struct {
	cfg        CommandConfig
	runner     executor.Runner
	dispatcher Dispatcher
	logger     *logging.Logger
	deps
}

// NewCommandWatcher creates a command watcher
func NewCommandWatcher(cfg CommandConfig, runner executor.Runner, dispatcher Dispatcher, logger *logging.Logger, opts ...Option) *CommandWatcher {
	return &CommandWatcher{
		cfg:        cfg,
		runner:     runner,
		dispatcher: dispatcher,
		logger:     logger.WithWatcher(KindCommand, cfg.Name).WithField("command", cfg.Command),
		deps:       newDeps(opts),
	}
}

// Name returns the event name
func (w *CommandWatcher) Name() string {
	return w.cfg.Name
}

// Kind returns KindCommand
func (w *CommandWatcher) Kind() string {
	return KindCommand
}

// Run executes the command until it should no longer repeat or ctx is
// cancelled. Only a failure to start the process is returned.
func (w *CommandWatcher) Run(ctx context.Context) error {
	interval := w.interval()

	for {
		if err := w.runOnce(ctx); err != nil {
			return err
		}

		if w.cfg.Repeat == nil {
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (w *CommandWatcher) interval() time.Duration {
	if w.cfg.Repeat == nil {
		return 0
	}
	return time.Duration(*w.cfg.Repeat * float64(time.Second))
}

func (w *CommandWatcher) runOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	ctx, span := tracing.TraceCommand(ctx, w.tracer, w.cfg.Name, w.cfg.Command)
	defer span.End()

	workDir := ""
	if w.cfg.WorkingDir != nil {
		workDir = *w.cfg.WorkingDir
	}

	result, err := w.runner.Run(ctx, w.cfg.Command, workDir)
	if w.metrics != nil {
		w.metrics.ObserveCommand(w.cfg.Name, result.ExitCode, result.Duration, err)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		span.RecordError(err)
		return err
	}

	w.logger.Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command completed")

	event := types.CommandEvent{
		Name:       w.cfg.Name,
		Command:    w.cfg.Command,
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		WorkingDir: w.cfg.WorkingDir,
		Repeat:     w.cfg.Repeat,
		Timestamp:  time.Now().UTC(),
	}

	// Failures are logged and counted by the dispatcher
	_ = w.dispatcher.Dispatch(ctx, w.cfg.Name, event.Document(), w.cfg.Targets)
	return nil
}
