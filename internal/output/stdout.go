package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// StdoutSink writes documents as newline-delimited JSON
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink creates a sink writing to w, or os.Stdout when w is nil
func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{w: w}
}

// Write prints the document on its own line
func (s *StdoutSink) Write(_ context.Context, doc types.Document, _ types.Target) error {
	data, err := doc.JSON()
	if err != nil {
		return fmt.Errorf("%w: failed to marshal document: %v", types.ErrSinkWrite, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSinkWrite, err)
	}
	return nil
}

// Close is a no-op
func (s *StdoutSink) Close() error {
	return nil
}

// Name returns the sink name
func (s *StdoutSink) Name() string {
	return string(types.TargetStdout)
}
