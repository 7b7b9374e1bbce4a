package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/internal/health"
	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
	"github.com/therealutkarshpriyadarshi/livemon/internal/metrics"
	"github.com/therealutkarshpriyadarshi/livemon/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/livemon/internal/server"
	"github.com/therealutkarshpriyadarshi/livemon/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/livemon/internal/supervisor"
	"github.com/therealutkarshpriyadarshi/livemon/internal/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start all watchers and run until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	return cfg, logger, nil
}

func run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info().Str("version", version).Str("config", configFile).Msg("Starting livemon")

	sd := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: logger})
	ctx, cancel := sd.Context(parent)
	defer cancel()

	var collector *metrics.Collector
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		collector.Start()
		sd.RegisterFunc("metrics", func(context.Context) error {
			collector.Stop()
			return nil
		})
	}

	var checker *health.Checker
	if cfg.Health != nil && cfg.Health.Enabled {
		checker = health.NewChecker(cfg.Health.Timeout)
		checker.Register("process", health.AlwaysHealthy())
		if collector != nil {
			checker.Observe(func(name string, status health.Status) {
				collector.HealthStatus.WithLabelValues(name).Set(healthValue(status))
			})
		}
	}

	if collector != nil || checker != nil {
		srvCfg := server.Config{HealthChecker: checker, Logger: logger.WithComponent("server")}
		if collector != nil {
			srvCfg.MetricsAddress = cfg.Metrics.Address
			srvCfg.MetricsPath = cfg.Metrics.Path
			srvCfg.MetricsRegistry = collector.Registry()
		}
		if checker != nil {
			srvCfg.HealthAddress = cfg.Health.Address
			srvCfg.LivenessPath = cfg.Health.LivenessPath
			srvCfg.ReadinessPath = cfg.Health.ReadinessPath
		}

		srv := server.New(srvCfg)
		if err := srv.Start(); err != nil {
			sd.Cleanup()
			return fmt.Errorf("failed to start server: %w", err)
		}
		sd.RegisterFunc("server", srv.Stop)
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:    cfg.Tracing != nil && cfg.Tracing.Enabled,
		Endpoint:   tracingEndpoint(cfg),
		SampleRate: tracingSampleRate(cfg),
	})
	if err != nil {
		sd.Cleanup()
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	sd.RegisterFunc("tracing", tp.Shutdown)

	p, err := pipeline.Build(ctx, cfg, pipeline.Options{
		Logger:  logger,
		Metrics: collector,
		Tracer:  tp.Tracer(),
	})
	if err != nil {
		sd.Cleanup()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	sd.RegisterFunc("sinks", func(context.Context) error {
		return p.Close()
	})

	results := supervisor.New(p.Watchers, logger,
		supervisor.WithMetrics(collector),
		supervisor.WithHealth(checker),
	).Run(ctx)

	cleanupErr := sd.Cleanup()

	if failed := supervisor.Failures(results); len(failed) > 0 {
		return fmt.Errorf("%d of %d watchers failed: %w", len(failed), len(results), failed[0].Err)
	}
	return cleanupErr
}

func healthValue(status health.Status) float64 {
	switch status {
	case health.StatusHealthy:
		return 1
	case health.StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

func tracingEndpoint(cfg *config.Config) string {
	if cfg.Tracing == nil {
		return ""
	}
	return cfg.Tracing.Endpoint
}

func tracingSampleRate(cfg *config.Config) float64 {
	if cfg.Tracing == nil {
		return 0
	}
	return cfg.Tracing.SampleRate
}
