package output

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/livemon/internal/config"
	"github.com/therealutkarshpriyadarshi/livemon/internal/reliability"
	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

type esRequest struct {
	method   string
	path     string
	pipeline string
	body     map[string]any
}

func newESServer(t *testing.T, status int) (*httptest.Server, *[]esRequest) {
	t.Helper()

	var mu sync.Mutex
	var requests []esRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)

		mu.Lock()
		requests = append(requests, esRequest{
			method:   r.Method,
			path:     r.URL.Path,
			pipeline: r.URL.Query().Get("pipeline"),
			body:     body,
		})
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status < 300 {
			w.Write([]byte(`{"_index":"events","_id":"1","result":"created"}`))
		} else {
			w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"}}`))
		}
	}))
	t.Cleanup(srv.Close)

	return srv, &requests
}

func TestElasticsearchSinkWrite(t *testing.T) {
	srv, requests := newESServer(t, http.StatusCreated)

	sink, err := NewElasticsearchSink(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("NewElasticsearchSink() error = %v", err)
	}
	defer sink.Close()

	target := types.Target{
		Type:   types.TargetElasticsearch,
		Config: map[string]string{"index": "events", "pipeline": "geoip"},
	}
	doc := types.Document{"user": "alice", "line": "login alice\n", "pattern": "login (?P<user>\\w+)"}

	if err := sink.Write(context.Background(), doc, target); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if len(*requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*requests))
	}
	req := (*requests)[0]
	if req.path != "/events/_doc" {
		t.Errorf("path = %q, want /events/_doc", req.path)
	}
	if req.pipeline != "geoip" {
		t.Errorf("pipeline = %q, want geoip", req.pipeline)
	}
	if req.body["user"] != "alice" || req.body["line"] != "login alice\n" {
		t.Errorf("unexpected body: %v", req.body)
	}
}

func TestElasticsearchSinkErrorStatus(t *testing.T) {
	srv, _ := newESServer(t, http.StatusBadRequest)

	sink, err := NewElasticsearchSink(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("NewElasticsearchSink() error = %v", err)
	}

	err = sink.Write(context.Background(), types.Document{"a": 1}, types.Target{Config: map[string]string{"index": "events"}})
	if !errors.Is(err, types.ErrSinkWrite) {
		t.Errorf("expected ErrSinkWrite, got %v", err)
	}
}

func TestElasticsearchSinkRetriesByStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		requests int
	}{
		{"rejected document", http.StatusBadRequest, 1},
		{"missing index", http.StatusNotFound, 1},
		{"throttled", http.StatusTooManyRequests, 3},
		{"request timeout", http.StatusRequestTimeout, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newESServer(t, tt.status)

			sink, err := NewElasticsearchSink(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
			if err != nil {
				t.Fatalf("NewElasticsearchSink() error = %v", err)
			}

			d := NewDispatcher(map[types.TargetKind]Sink{types.TargetElasticsearch: sink}, testLogger(),
				WithRetry(reliability.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond}))

			target := types.Target{Type: types.TargetElasticsearch, Config: map[string]string{"index": "events"}}
			err = d.Dispatch(context.Background(), "login", types.Document{"user": "alice"}, []types.Target{target})
			if !errors.Is(err, types.ErrSinkWrite) {
				t.Errorf("expected ErrSinkWrite, got %v", err)
			}

			if len(*requests) != tt.requests {
				t.Errorf("expected %d requests, got %d", tt.requests, len(*requests))
			}
		})
	}
}

func TestElasticsearchSinkClosed(t *testing.T) {
	sink, err := NewElasticsearchSink(config.ElasticsearchConfig{Addresses: []string{"http://127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("NewElasticsearchSink() error = %v", err)
	}
	sink.Close()

	err = sink.Write(context.Background(), types.Document{}, types.Target{Config: map[string]string{"index": "events"}})
	if !errors.Is(err, types.ErrSinkWrite) {
		t.Errorf("expected ErrSinkWrite, got %v", err)
	}
}
