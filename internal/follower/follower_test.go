package follower

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// appendFile appends data to the file at path
func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
}

func openFollower(t *testing.T, cfg Config) (string, *Follower) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	return path, New(f, cfg)
}

func nextWithin(f *Follower, d time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Next(ctx)
}

func TestFollowerEmitsCompleteLines(t *testing.T) {
	path, f := openFollower(t, Config{PollInterval: 10 * time.Millisecond})

	appendFile(t, path, "line1\nline2\n")

	for _, want := range []string{"line1\n", "line2\n"} {
		got, err := nextWithin(f, time.Second)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if got != want {
			t.Errorf("Next() = %q, want %q", got, want)
		}
	}
}

func TestFollowerBuffersPartialLines(t *testing.T) {
	path, f := openFollower(t, Config{PollInterval: 10 * time.Millisecond})

	appendFile(t, path, "half")
	if _, err := nextWithin(f, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no line before delimiter, got err = %v", err)
	}

	appendFile(t, path, "-written")
	if _, err := nextWithin(f, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no line before delimiter, got err = %v", err)
	}
	if f.Pending() != len("half-written") {
		t.Errorf("Pending() = %d, want %d", f.Pending(), len("half-written"))
	}

	appendFile(t, path, " line\nnext")
	got, err := nextWithin(f, time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got != "half-written line\n" {
		t.Errorf("Next() = %q, want %q", got, "half-written line\n")
	}

	if _, err := nextWithin(f, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("trailing partial line must not be emitted, err = %v", err)
	}
	if f.Pending() != len("next") {
		t.Errorf("Pending() = %d, want %d", f.Pending(), len("next"))
	}
}

func TestFollowerWaitsAtEOF(t *testing.T) {
	_, f := openFollower(t, Config{PollInterval: 10 * time.Millisecond})

	if _, err := nextWithin(f, 30*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next() error = %v, want deadline exceeded", err)
	}
	if f.State() != StateWaiting {
		t.Errorf("State() = %v, want waiting", f.State())
	}
}

func TestFollowerPicksUpLaterWrites(t *testing.T) {
	path, f := openFollower(t, Config{PollInterval: 10 * time.Millisecond})

	go func() {
		time.Sleep(50 * time.Millisecond)
		w, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		defer w.Close()
		w.WriteString("late\n")
	}()

	got, err := nextWithin(f, 2*time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got != "late\n" {
		t.Errorf("Next() = %q, want %q", got, "late\n")
	}
}

func TestFollowerWakeEndsWait(t *testing.T) {
	wake := make(chan struct{}, 1)
	path, f := openFollower(t, Config{PollInterval: time.Hour, Wake: wake})

	// Reach EOF so the follower enters the waiting state.
	if _, err := nextWithin(f, 20*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next() error = %v, want deadline exceeded", err)
	}

	appendFile(t, path, "woken\n")
	wake <- struct{}{}

	got, err := nextWithin(f, 2*time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got != "woken\n" {
		t.Errorf("Next() = %q, want %q", got, "woken\n")
	}
}

func TestFollowerCancel(t *testing.T) {
	_, f := openFollower(t, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Next(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Next() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next() did not return after cancel")
	}
}

// chunkReader returns one scripted chunk per Read call and io.EOF between chunks
type chunkReader struct {
	mu     sync.Mutex
	chunks []string
	eof    bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eof || len(r.chunks) == 0 {
		r.eof = false
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	r.eof = true
	return n, nil
}

func TestFollowerAccumulatesAcrossReads(t *testing.T) {
	r := &chunkReader{chunks: []string{"a", "b", "c\nd", "e\n"}}
	f := New(r, Config{PollInterval: time.Millisecond})

	for _, want := range []string{"abc\n", "de\n"} {
		got, err := nextWithin(f, time.Second)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if got != want {
			t.Errorf("Next() = %q, want %q", got, want)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestFollowerReadError(t *testing.T) {
	f := New(failingReader{}, Config{})

	_, err := nextWithin(f, time.Second)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestFollowerLines(t *testing.T) {
	path, f := openFollower(t, Config{PollInterval: 5 * time.Millisecond})
	appendFile(t, path, "one\ntwo\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines, errCh := f.Lines(ctx)

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}

	if got[0] != "one\n" || got[1] != "two\n" {
		t.Errorf("Lines() = %q", got)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("error channel = %v, want context.Canceled", err)
	}
}
