// Package metrics exposes the Prometheus registry used by the scraper.
// All metrics are defined in their respective packages (client, pagination,
// cache, ratelimit, checkpoint, sink) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the /metrics endpoint and a reference of all
// available metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the scraper.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux returns a mux with /metrics and /healthz.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Serve exposes metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info().Msg("Metrics server stopped")
		return nil
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - bina_requests_total{op, status} (Counter): Requests by operation (page, detail) and HTTP status
//   - bina_request_duration_seconds{op} (Histogram): Request duration by operation
//   - bina_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, payload)
//
// Retry Metrics (pkg/client):
//   - bina_retries_total{error_class} (Counter): Retry attempts by error class
//   - bina_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - bina_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Upstream Health Metrics (pkg/ratelimit):
//   - bina_upstream_consecutive_failures (Gauge): Failed requests in a row
//   - bina_throttles_total (Counter): Requests delayed while the upstream kept failing
//
// Pagination Metrics (pkg/pagination):
//   - bina_pages_total{outcome} (Counter): Pages committed, failed, skipped or discarded
//   - bina_records_total{outcome} (Counter): Listings accepted, duplicate or rejected
//   - bina_last_committed_page{kind} (Gauge): Last committed page index
//
// Category Cache Metrics (pkg/cache):
//   - bina_category_cache_hits_total (Counter): Lookups served from the run cache
//   - bina_category_cache_misses_total (Counter): Lookups that needed a detail fetch
//   - bina_category_cache_entries (Gauge): Cached paths
//   - bina_category_cache_errors_total (Counter): Failed loads (not cached)
//
// Persistence Metrics (pkg/checkpoint, pkg/sink):
//   - bina_checkpoint_saves_total{backend, result} (Counter): Checkpoint saves
//   - bina_checkpoint_corrupt_total{backend} (Counter): Checkpoints discarded as corrupt
//   - bina_sink_writes_total{format, result} (Counter): Artifact writes by format
//   - bina_sink_records_written{format} (Gauge): Records in the latest artifact
//
// Example Prometheus Queries:
//
//   # Category Cache Hit Rate
//   sum(rate(bina_category_cache_hits_total[5m])) /
//   (sum(rate(bina_category_cache_hits_total[5m])) + sum(rate(bina_category_cache_misses_total[5m])))
//
//   # Pages per minute
//   rate(bina_pages_total{outcome="committed"}[1m]) * 60
//
//   # Request Error Rate
//   rate(bina_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(bina_request_duration_seconds_bucket[5m]))
