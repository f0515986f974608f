// Package metrics exposes the harvester's Prometheus metrics.
// All metrics are defined in their respective packages (client, checkpoint,
// pagestore, pagination, ratelimit) and registered via promauto; this package
// serves them and documents the catalogue.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving every registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux returns a mux serving /metrics and a /health probe.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Server serves metrics while a harvest runs.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan error
}

// Start listens on addr and serves NewMux in the background.
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewMux(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan error, 1),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - harvest_requests_total{collection, status} (Counter): Requests by collection and HTTP status
//   - harvest_request_duration_seconds{collection} (Histogram): Request duration by collection
//   - harvest_errors_total{class} (Counter): Errors by class (rate_limit, server, network, client, malformed)
//
// Retry Metrics (pkg/client):
//   - harvest_retries_total{error_class} (Counter): Retry attempts by error class
//   - harvest_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - harvest_retry_exhausted_total{error_class} (Counter): Fetches that exhausted max retries
//
// Pacing Metrics (pkg/ratelimit):
//   - harvest_pacer_wait_seconds (Histogram): Politeness pauses between fetches
//
// Run Metrics (pkg/pagination):
//   - harvest_pages_committed_total{collection} (Counter): Pages written and checkpointed
//   - harvest_pages_reused_total{collection} (Counter): Archived pages read back instead of fetched
//   - harvest_page_gaps_total{collection} (Counter): Malformed pages skipped
//   - harvest_runs_total{outcome} (Counter): Runs by outcome (exhausted, failed)
//   - harvest_storage_retries_total{operation} (Counter): Local durable write retries
//   - harvest_active_runs (Gauge): Runs in progress
//
// Storage Metrics (pkg/checkpoint, pkg/pagestore):
//   - harvest_checkpoint_saves_total{backend} (Counter): Checkpoint saves
//   - harvest_checkpoint_errors_total{backend, operation} (Counter): Checkpoint operation errors
//   - harvest_pagestore_writes_total{backend} (Counter): Archived page writes
//   - harvest_pagestore_bytes_written_total{backend} (Counter): Archived payload bytes
//   - harvest_pagestore_errors_total{backend, operation} (Counter): Page store errors
//
// Example Prometheus Queries:
//
//   # Pages per minute by collection
//   sum by (collection) (rate(harvest_pages_committed_total[1m])) * 60
//
//   # Share of requests answered with 429
//   sum(rate(harvest_requests_total{status="429"}[5m])) / sum(rate(harvest_requests_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))
//
//   # Failed runs
//   increase(harvest_runs_total{outcome="failed"}[1h]) > 0
