package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

type dispatched struct {
	event   string
	doc     types.Document
	targets []types.Target
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
	notify chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{notify: make(chan struct{}, 100)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event string, doc types.Document, targets []types.Target) error {
	d.mu.Lock()
	d.events = append(d.events, dispatched{event: event, doc: doc, targets: targets})
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return nil
}

func (d *recordingDispatcher) snapshot() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatched, len(d.events))
	copy(out, d.events)
	return out
}

// waitFor blocks until at least n events were dispatched or the deadline passes
func (d *recordingDispatcher) waitFor(t *testing.T, n int, timeout time.Duration) []dispatched {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if events := d.snapshot(); len(events) >= n {
			return events
		}
		select {
		case <-d.notify:
		case <-deadline:
			t.Fatalf("Timed out waiting for %d events, got %d", n, len(d.snapshot()))
		}
	}
}

func runAsync(ctx context.Context, w Watcher) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()
	return done
}
