// Package metrics provides the Prometheus registry for the storefront client.
// All metrics are defined in their respective packages (pagination, client,
// cache, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package exposes them over HTTP and documents what is available.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the storefront client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back everything registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Pagination Metrics (pkg/pagination):
//   - storefront_pages_fetched_total{fetcher} (Counter): Pages appended to a list session
//   - storefront_page_fetch_failures_total{fetcher} (Counter): Failed Advance calls
//   - storefront_advance_skipped_total{fetcher, reason} (Counter): Advance no-ops (loading, exhausted, closed)
//   - storefront_page_fetch_duration_seconds{fetcher} (Histogram): Page fetch duration including retries
//   - storefront_page_retries_total{fetcher} (Counter): In-call page retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - storefront_rate_limit_remaining (Gauge): Requests remaining in the gateway window
//   - storefront_rate_limit_blocks_total (Counter): Requests blocked below the critical threshold
//   - storefront_rate_limit_throttles_total (Counter): Requests delayed below the warning threshold
//
// Cache Metrics (pkg/cache):
//   - storefront_cache_hits_total{scope} (Counter): Cache hits, scope is public or private
//   - storefront_cache_misses_total{scope} (Counter): Cache misses
//   - storefront_cache_stored_bytes_total{scope} (Counter): Page bytes written to Redis
//   - storefront_cache_skipped_total{reason} (Counter): Responses the policy refused to store
//   - storefront_cache_invalidated_total{reason} (Counter): Entries dropped on logout or order placement
//   - storefront_304_responses_total (Counter): 304 Not Modified responses
//   - storefront_conditional_requests_total (Counter): Conditional requests sent
//   - storefront_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - storefront_requests_total{endpoint, status} (Counter): Requests by endpoint and outcome
//   - storefront_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - storefront_errors_total{class} (Counter): Errors by class (client, auth, server, rate_limit, network, unavailable)
//   - storefront_circuit_breaker_state{name} (Gauge): 0 closed, 1 half-open, 2 open
//
// Retry Metrics (pkg/client):
//   - storefront_retries_total{error_class} (Counter): Retry attempts by error class
//   - storefront_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - storefront_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Failed page loads per list
//   sum by (fetcher) (rate(storefront_page_fetch_failures_total[5m]))
//
//   # Scroll signals ignored while a page is loading
//   rate(storefront_advance_skipped_total{reason="loading"}[5m])
//
//   # Cache Hit Rate per scope
//   sum by (scope) (rate(storefront_cache_hits_total[5m])) /
//   (sum by (scope) (rate(storefront_cache_hits_total[5m])) + sum by (scope) (rate(storefront_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(storefront_request_duration_seconds_bucket[5m]))
//
//   # Breaker open
//   storefront_circuit_breaker_state == 2
