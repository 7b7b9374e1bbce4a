package follower

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// DefaultPollInterval is how long the follower waits after reaching EOF
// before reading again.
const DefaultPollInterval = 100 * time.Millisecond

// State is the follower state
type State int

const (
	StateReading State = iota
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Config holds follower configuration
type Config struct {
	// PollInterval is the delay between reads once EOF is reached
	PollInterval time.Duration

	// Wake, if set, ends a wait early. Typically fed by filesystem write
	// notifications.
	Wake <-chan struct{}
}

// Follower turns a continuously appended byte stream into complete lines.
// A line is only returned once its trailing '\n' has been read; partial
// lines stay buffered until the delimiter arrives.
type Follower struct {
	reader   *bufio.Reader
	pending  strings.Builder
	interval time.Duration
	wake     <-chan struct{}
	state    State
}

// New creates a follower reading from r's current position
func New(r io.Reader, cfg Config) *Follower {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Follower{
		reader:   bufio.NewReader(r),
		interval: cfg.PollInterval,
		wake:     cfg.Wake,
		state:    StateReading,
	}
}

// State returns the current state
func (f *Follower) State() State {
	return f.state
}

// Pending returns the number of buffered bytes not yet terminated by '\n'
func (f *Follower) Pending() int {
	return f.pending.Len()
}

// Next blocks until the next complete line is available and returns it with
// its delimiter. It only returns an error when ctx is done or the underlying
// reader fails with something other than io.EOF.
func (f *Follower) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if f.state == StateWaiting {
			if err := f.wait(ctx); err != nil {
				return "", err
			}
			f.state = StateReading
		}

		chunk, err := f.reader.ReadString('\n')
		if len(chunk) > 0 {
			f.pending.WriteString(chunk)
			if strings.HasSuffix(chunk, "\n") {
				line := f.pending.String()
				f.pending.Reset()
				return line, nil
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			if len(chunk) == 0 {
				f.state = StateWaiting
			}
		}
	}
}

// Lines streams complete lines on the returned channel until ctx is done or
// the reader fails. The error channel receives at most one value.
func (f *Follower) Lines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(lines)
		defer close(errCh)

		for {
			line, err := f.Next(ctx)
			if err != nil {
				errCh <- err
				return
			}

			select {
			case lines <- line:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return lines, errCh
}

func (f *Follower) wait(ctx context.Context) error {
	timer := time.NewTimer(f.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-f.wake:
	}
	return nil
}
