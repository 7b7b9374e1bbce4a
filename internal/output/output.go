package output

import (
	"context"

	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// Sink writes documents to one kind of destination. Implementations must be
// safe for concurrent use since watchers share them.
type Sink interface {
	// Write delivers one document using the target's parameters. It returns
	// once the destination has acknowledged the write.
	Write(ctx context.Context, doc types.Document, target types.Target) error

	// Close releases the sink's connections
	Close() error

	// Name returns the sink kind
	Name() string
}

// CompressionType defines the compression algorithm to use
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
)

// Extension returns the object key suffix for the compression type
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionSnappy:
		return ".snappy"
	default:
		return ""
	}
}
