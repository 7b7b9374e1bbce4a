package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/internal/output"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// NewSinks creates one sink per kind. Entries in overrides are used instead
// of constructing the sink.
func NewSinks(ctx context.Context, cfg config.SinksConfig, kinds []types.TargetKind, stdout io.Writer, overrides map[types.TargetKind]output.Sink) (map[types.TargetKind]output.Sink, error) {
	sinks := make(map[types.TargetKind]output.Sink, len(kinds))

	for _, kind := range kinds {
		if sink, ok := overrides[kind]; ok {
			sinks[kind] = sink
			continue
		}

		sink, err := newSink(ctx, cfg, kind, stdout)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, err
		}
		sinks[kind] = sink
	}

	return sinks, nil
}

func newSink(ctx context.Context, cfg config.SinksConfig, kind types.TargetKind, stdout io.Writer) (output.Sink, error) {
	switch kind {
	case types.TargetElasticsearch:
		return output.NewElasticsearchSink(cfg.Elasticsearch)
	case types.TargetKafka:
		return output.NewKafkaSink(cfg.Kafka)
	case types.TargetS3:
		return output.NewS3Sink(ctx, cfg.S3)
	case types.TargetStdout:
		return output.NewStdoutSink(stdout), nil
	default:
		return nil, fmt.Errorf("%w: unknown target type %q", types.ErrConfiguration, kind)
	}
}
