package output

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// PutObjectAPI is the subset of the S3 client used by S3Sink
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores each document as its own object
type S3Sink struct {
	client PutObjectAPI
	seq    atomic.Uint64
	closed atomic.Bool
}

// NewS3Sink creates an S3 sink using the default AWS credential chain
func NewS3Sink(ctx context.Context, cfg config.S3Config) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %v", types.ErrConfiguration, err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return NewS3SinkWithClient(s3.NewFromConfig(awsCfg, opts...)), nil
}

// NewS3SinkWithClient creates an S3 sink around an existing client
func NewS3SinkWithClient(client PutObjectAPI) *S3Sink {
	return &S3Sink{client: client}
}

// Write uploads the document to the target's bucket
func (s *S3Sink) Write(ctx context.Context, doc types.Document, target types.Target) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: s3 sink is closed", types.ErrSinkWrite)
	}

	compression := CompressionType(target.Param("compression"))
	compressor, err := GetCompressor(compression)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSinkWrite, err)
	}

	data, err := doc.JSON()
	if err != nil {
		return fmt.Errorf("%w: failed to marshal document: %v", types.ErrSinkWrite, err)
	}

	data, err = compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("%w: failed to compress data: %v", types.ErrSinkWrite, err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(target.Param("bucket")),
		Key:         aws.String(s.objectKey(target.Param("prefix"), doc.Time(), compression)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if enc := compressor.ContentEncoding(); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to upload to S3: %v", types.ErrSinkWrite, err)
	}

	return nil
}

// objectKey builds prefix/YYYY/MM/DD/HH/<unixnano>-<seq>.json[.ext]
func (s *S3Sink) objectKey(prefix string, ts time.Time, compression CompressionType) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%02d/%d-%d.json%s",
		prefix,
		ts.Year(), ts.Month(), ts.Day(), ts.Hour(),
		ts.UnixNano(), s.seq.Add(1),
		compression.Extension(),
	)
}

// Close closes the S3 sink
func (s *S3Sink) Close() error {
	s.closed.Store(true)
	return nil
}

// Name returns the sink name
func (s *S3Sink) Name() string {
	return string(types.TargetS3)
}
