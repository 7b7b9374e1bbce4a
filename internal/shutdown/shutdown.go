package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
)

// Manager coordinates a graceful stop: a signal or an explicit Shutdown call
// cancels the run context, then registered cleanup functions run in reverse
// registration order under a shared deadline.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedFunc

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	cleanupOnce  sync.Once
	cleanupErr   error
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type namedFunc struct {
	name string
	fn   ShutdownFunc
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	return &Manager{
		logger:     cfg.Logger.WithComponent("shutdown"),
		timeout:    cfg.Timeout,
		shutdownCh: make(chan struct{}),
	}
}

// RegisterFunc registers a cleanup function. Functions run last-in first-out.
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("target", name).Msg("Registered shutdown function")
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Context returns a child of parent that is cancelled when one of signals
// arrives (SIGINT and SIGTERM by default) or Shutdown is called.
func (m *Manager) Context(parent context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			m.Shutdown()
			cancel()
		case <-m.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Shutdown marks the manager as shutting down. Contexts returned by Context
// are cancelled. Cleanup functions run on Cleanup.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
	})
}

// Cleanup runs the registered functions once, newest first, and returns
// their joined errors. Functions still running at the deadline are abandoned.
func (m *Manager) Cleanup() error {
	m.Shutdown()
	m.cleanupOnce.Do(func() {
		m.cleanupErr = m.runFuncs()
	})
	return m.cleanupErr
}

func (m *Manager) runFuncs() error {
	m.mu.Lock()
	funcs := make([]namedFunc, len(m.funcs))
	copy(funcs, m.funcs)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("functions", len(funcs)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]

		result := make(chan error, 1)
		go func() {
			result <- f.fn(ctx)
		}()

		select {
		case err := <-result:
			if err != nil {
				m.logger.Error().Err(err).Str("target", f.name).Msg("Shutdown function failed")
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			}
		case <-ctx.Done():
			m.logger.Warn().
				Dur("timeout", m.timeout).
				Str("target", f.name).
				Msg("Graceful shutdown timed out")
			return errors.Join(append(errs, fmt.Errorf("%s: %w", f.name, ctx.Err()))...)
		}
	}

	if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
	} else {
		m.logger.Info().Msg("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}
