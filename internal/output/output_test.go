package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/therealutkarshpriyadarshi/livemon/internal/logging"
	"github.com/therealutkarshpriyadarshi/livemon/internal/metrics"
	"github.com/therealutkarshpriyadarshi/livemon/internal/reliability"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// recordingSink captures writes and fails the first failures calls
type recordingSink struct {
	name     string
	failures int

	mu     sync.Mutex
	calls  int
	docs   []types.Document
	closed bool
}

func (s *recordingSink) Write(_ context.Context, doc types.Document, _ types.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failures {
		return types.ErrSinkWrite
	}
	s.docs = append(s.docs, doc)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) Name() string { return s.name }

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Output: io.Discard})
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return m.Counter.GetValue()
}

func TestStdoutSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf)

	docs := []types.Document{
		{"name": "a", "line": "x\n"},
		{"name": "b", "exit_code": 1},
	}
	for _, doc := range docs {
		if err := sink.Write(context.Background(), doc, types.Target{Type: types.TargetStdout}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if got["line"] != "x\n" {
		t.Errorf("line = %q, want %q", got["line"], "x\n")
	}

	if sink.Name() != "stdout" {
		t.Errorf("Name() = %q", sink.Name())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStdoutSinkWriteError(t *testing.T) {
	sink := NewStdoutSink(failingWriter{})
	err := sink.Write(context.Background(), types.Document{"a": 1}, types.Target{})
	if !errors.Is(err, types.ErrSinkWrite) {
		t.Errorf("expected ErrSinkWrite, got %v", err)
	}
}

func TestDispatcherContinuesAfterFailure(t *testing.T) {
	failing := &recordingSink{name: "kafka", failures: 1}
	healthy := &recordingSink{name: "stdout"}
	collector := metrics.NewCollector()

	d := NewDispatcher(map[types.TargetKind]Sink{
		types.TargetKafka:  failing,
		types.TargetStdout: healthy,
	}, testLogger(), WithMetrics(collector))

	targets := []types.Target{
		{Type: types.TargetKafka, Config: map[string]string{"topic": "t"}},
		{Type: types.TargetStdout},
	}
	doc := types.Document{"name": "e"}

	err := d.Dispatch(context.Background(), "e", doc, targets)
	if !errors.Is(err, types.ErrSinkWrite) {
		t.Fatalf("expected ErrSinkWrite, got %v", err)
	}

	if len(healthy.docs) != 1 {
		t.Errorf("expected second target to receive the event, got %d docs", len(healthy.docs))
	}
	if v := counterValue(t, collector.SinkFailures.WithLabelValues("kafka", "write")); v != 1 {
		t.Errorf("expected 1 kafka failure, got %f", v)
	}
	if v := counterValue(t, collector.SinkWrites.WithLabelValues("stdout")); v != 1 {
		t.Errorf("expected 1 stdout write, got %f", v)
	}

	// Next event is delivered to both
	if err := d.Dispatch(context.Background(), "e", doc, targets); err != nil {
		t.Errorf("second Dispatch() error = %v", err)
	}
	if len(failing.docs) != 1 || len(healthy.docs) != 2 {
		t.Errorf("unexpected deliveries: kafka=%d stdout=%d", len(failing.docs), len(healthy.docs))
	}
}

func TestDispatcherPreservesTargetOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	mk := func(name string) Sink {
		return sinkFunc{name: name, fn: func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}}
	}

	d := NewDispatcher(map[types.TargetKind]Sink{
		types.TargetS3:     mk("s3"),
		types.TargetStdout: mk("stdout"),
	}, testLogger())

	targets := []types.Target{{Type: types.TargetStdout}, {Type: types.TargetS3}, {Type: types.TargetStdout}}
	if err := d.Dispatch(context.Background(), "e", types.Document{}, targets); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	want := []string{"stdout", "s3", "stdout"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

type sinkFunc struct {
	name string
	fn   func()
}

func (s sinkFunc) Write(context.Context, types.Document, types.Target) error {
	s.fn()
	return nil
}

func (s sinkFunc) Close() error { return nil }
func (s sinkFunc) Name() string { return s.name }

func TestDispatcherMissingSink(t *testing.T) {
	d := NewDispatcher(map[types.TargetKind]Sink{}, testLogger())

	err := d.Dispatch(context.Background(), "e", types.Document{}, []types.Target{{Type: types.TargetElasticsearch}})
	if !errors.Is(err, types.ErrSinkWrite) {
		t.Errorf("expected ErrSinkWrite, got %v", err)
	}
}

func TestDispatcherNoTargets(t *testing.T) {
	d := NewDispatcher(nil, testLogger())
	if err := d.Dispatch(context.Background(), "e", types.Document{}, nil); err != nil {
		t.Errorf("Dispatch() error = %v", err)
	}
}

func TestDispatcherRetry(t *testing.T) {
	sink := &recordingSink{name: "stdout", failures: 2}
	collector := metrics.NewCollector()

	d := NewDispatcher(map[types.TargetKind]Sink{types.TargetStdout: sink}, testLogger(),
		WithMetrics(collector),
		WithRetry(reliability.RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}),
	)

	if err := d.Dispatch(context.Background(), "e", types.Document{"a": 1}, []types.Target{{Type: types.TargetStdout}}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if sink.calls != 3 {
		t.Errorf("calls = %d, want 3", sink.calls)
	}
	if v := counterValue(t, collector.SinkRetries.WithLabelValues("stdout")); v != 2 {
		t.Errorf("expected 2 retries, got %f", v)
	}
}

func TestDispatcherRetryDisabledByZero(t *testing.T) {
	sink := &recordingSink{name: "stdout", failures: 1}
	d := NewDispatcher(map[types.TargetKind]Sink{types.TargetStdout: sink}, testLogger(),
		WithRetry(reliability.RetryConfig{MaxRetries: 0}),
	)

	err := d.Dispatch(context.Background(), "e", types.Document{}, []types.Target{{Type: types.TargetStdout}})
	if err == nil {
		t.Fatal("expected error without retries")
	}
	if sink.calls != 1 {
		t.Errorf("calls = %d, want 1", sink.calls)
	}
}

func TestDispatcherClose(t *testing.T) {
	a := &recordingSink{name: "stdout"}
	b := &recordingSink{name: "kafka"}
	d := NewDispatcher(map[types.TargetKind]Sink{types.TargetStdout: a, types.TargetKafka: b}, testLogger())

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected all sinks to be closed")
	}
}
