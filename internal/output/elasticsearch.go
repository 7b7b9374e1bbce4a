package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/internal/reliability"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// ElasticsearchSink indexes each document with a single index request
type ElasticsearchSink struct {
	client *elasticsearch.Client
	closed atomic.Bool
}

// NewElasticsearchSink creates an Elasticsearch sink. No request is made
// until the first write.
func NewElasticsearchSink(cfg config.ElasticsearchConfig) (*ElasticsearchSink, error) {
	return newElasticsearchSink(cfg, nil)
}

func newElasticsearchSink(cfg config.ElasticsearchConfig, transport http.RoundTripper) (*ElasticsearchSink, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Elasticsearch client: %v", types.ErrConfiguration, err)
	}

	return &ElasticsearchSink{client: client}, nil
}

// Write indexes the document into the target's index
func (e *ElasticsearchSink) Write(ctx context.Context, doc types.Document, target types.Target) error {
	if e.closed.Load() {
		return fmt.Errorf("%w: elasticsearch sink is closed", types.ErrSinkWrite)
	}

	body, err := doc.JSON()
	if err != nil {
		return fmt.Errorf("%w: failed to marshal document: %v", types.ErrSinkWrite, err)
	}

	req := esapi.IndexRequest{
		Index:    target.Param("index"),
		Body:     bytes.NewReader(body),
		Refresh:  "false",
		Pipeline: target.Param("pipeline"),
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("%w: failed to index document: %v", types.ErrSinkWrite, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		err := fmt.Errorf("%w: elasticsearch returned %s: %s", types.ErrSinkWrite, res.Status(), bytes.TrimSpace(detail))
		if permanentStatus(res.StatusCode) {
			return reliability.Permanent(err)
		}
		return err
	}

	return nil
}

// permanentStatus reports whether resending the same document cannot succeed
func permanentStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

// Close closes the Elasticsearch sink
func (e *ElasticsearchSink) Close() error {
	e.closed.Store(true)
	return nil
}

// Name returns the sink name
func (e *ElasticsearchSink) Name() string {
	return string(types.TargetElasticsearch)
}
