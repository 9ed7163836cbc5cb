// Package metrics provides the Prometheus registry and HTTP handler of the
// search poller. All metrics are defined in their respective packages (client,
// ratelimit, pagination, session) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the poller.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the metrics of the default registry in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - poller_budget_remaining (Gauge): Requests remaining in the current rate limit window
//   - poller_rate_limit_blocks_total (Counter): Requests blocked because the window is spent
//
// Request Metrics (pkg/client):
//   - poller_search_requests_total{status} (Counter): Search requests by HTTP status
//   - poller_search_request_duration_seconds (Histogram): Search request duration including retries
//   - poller_search_errors_total{class} (Counter): Errors by class (client, auth, server, rate_limit, network, decode)
//   - poller_search_circuit_state (Gauge): Circuit breaker state (0 closed, 1 half-open, 2 open)
//
// Retry Metrics (pkg/client):
//   - poller_search_retries_total{error_class} (Counter): Retry attempts by error class
//   - poller_search_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - poller_search_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pager Metrics (pkg/pagination):
//   - poller_pages_fetched_total (Counter): Non-empty pages fetched
//   - poller_items_fetched_total (Counter): Items aggregated across pages
//   - poller_pager_stops_total{reason} (Counter): Page loop terminations (exhausted, partial_page, budget, page_cap, transport_error)
//
// Session Metrics (pkg/session):
//   - poller_session_runs_total{outcome} (Counter): Session runs (new_items, no_new_items, error)
//   - poller_watermark_persist_errors_total (Counter): Failed watermark writes
//
// Example Prometheus Queries:
//
//   # Budget Status
//   poller_budget_remaining < 10
//
//   # Average Pages per Run
//   rate(poller_pages_fetched_total[1h]) / rate(poller_session_runs_total[1h])
//
//   # Runs Cut Short by Budget
//   rate(poller_pager_stops_total{reason="budget"}[1h])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(poller_search_request_duration_seconds_bucket[5m]))
