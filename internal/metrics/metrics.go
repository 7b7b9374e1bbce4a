package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "livemon"

// Command run outcomes used as the status label
const (
	StatusSuccess = "success"
	StatusNonZero = "nonzero"
	StatusError   = "error"
)

// Collector provides a central place for all application metrics
type Collector struct {
	// Watcher metrics
	WatchersRunning *prometheus.GaugeVec
	WatcherFailures *prometheus.CounterVec

	// Follower metrics
	LinesRead *prometheus.CounterVec
	BytesRead *prometheus.CounterVec

	// Extraction metrics
	EventsExtracted *prometheus.CounterVec
	ParseErrors     *prometheus.CounterVec
	ExtractDuration *prometheus.HistogramVec
	LinesUnmatched  *prometheus.CounterVec

	// Command metrics
	CommandRuns     *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	CommandExitCode *prometheus.GaugeVec

	// Sink metrics
	SinkWrites   *prometheus.CounterVec
	SinkFailures *prometheus.CounterVec
	SinkDuration *prometheus.HistogramVec
	SinkRetries  *prometheus.CounterVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge
	SystemGCPauses   prometheus.Histogram

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initWatcherMetrics()
	c.initExtractionMetrics()
	c.initCommandMetrics()
	c.initSinkMetrics()
	c.initSystemMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initWatcherMetrics() {
	c.WatchersRunning = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "running",
			Help:      "Current number of running watchers",
		},
		[]string{"watcher_type"},
	)

	c.WatcherFailures = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "failures_total",
			Help:      "Total number of watchers that stopped with an error",
		},
		[]string{"watcher_type", "reason"},
	)

	c.LinesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "follower",
			Name:      "lines_read_total",
			Help:      "Total number of complete lines read from log files",
		},
		[]string{"path"},
	)

	c.BytesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "follower",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from log files",
		},
		[]string{"path"},
	)
}

func (c *Collector) initExtractionMetrics() {
	c.EventsExtracted = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "events_total",
			Help:      "Total number of events extracted from log lines",
		},
		[]string{"event"},
	)

	c.ParseErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "parse_errors_total",
			Help:      "Total number of matched lines whose event data could not be decoded",
		},
		[]string{"event"},
	)

	c.LinesUnmatched = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "lines_unmatched_total",
			Help:      "Total number of lines that matched no rule",
		},
		[]string{"path"},
	)

	c.ExtractDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "duration_seconds",
			Help:      "Time taken to match a line against all rules",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
		[]string{"path"},
	)
}

func (c *Collector) initCommandMetrics() {
	c.CommandRuns = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "runs_total",
			Help:      "Total number of command executions",
		},
		[]string{"event", "status"},
	)

	c.CommandDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Time taken for a command to run to completion",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		},
		[]string{"event"},
	)

	c.CommandExitCode = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "last_exit_code",
			Help:      "Exit code of the most recent run",
		},
		[]string{"event"},
	)
}

func (c *Collector) initSinkMetrics() {
	c.SinkWrites = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "documents_written_total",
			Help:      "Total number of documents successfully written to a sink",
		},
		[]string{"sink"},
	)

	c.SinkFailures = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "documents_failed_total",
			Help:      "Total number of documents that failed to be written",
		},
		[]string{"sink", "reason"},
	)

	c.SinkDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "write_duration_seconds",
			Help:      "Time taken to write a document to a sink",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"sink"},
	)

	c.SinkRetries = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "retries_total",
			Help:      "Total number of write retries",
		},
		[]string{"sink"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "gc_pause_seconds",
			Help:      "GC pause duration",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// ObserveCommand records one command run
func (c *Collector) ObserveCommand(event string, exitCode int, duration time.Duration, err error) {
	status := StatusSuccess
	switch {
	case err != nil:
		status = StatusError
	case exitCode != 0:
		status = StatusNonZero
	}

	c.CommandRuns.WithLabelValues(event, status).Inc()
	c.CommandDuration.WithLabelValues(event).Observe(duration.Seconds())
	if err == nil {
		c.CommandExitCode.WithLabelValues(event).Set(float64(exitCode))
	}
}

// Start begins collecting system metrics periodically
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return
	}

	stop := make(chan struct{})
	c.stop = stop

	c.collectSystemMetrics()

	// Collect system metrics every 15 seconds
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stop:
				return
			}
		}
	}()
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	// Record GC pause time
	if m.NumGC > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
