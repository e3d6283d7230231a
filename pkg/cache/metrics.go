package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts pages served from Redis by scope ("public" or "private").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_hits_total",
			Help: "Total number of storefront cache hits",
		},
		[]string{"scope"},
	)

	// CacheMisses counts lookups that found nothing usable.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_misses_total",
			Help: "Total number of storefront cache misses",
		},
		[]string{"scope"},
	)

	// StoredBytes counts response bytes written to Redis.
	StoredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_stored_bytes_total",
			Help: "Bytes of response data written to the storefront cache",
		},
		[]string{"scope"},
	)

	// Skipped counts responses the policy refused to store.
	Skipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_skipped_total",
			Help: "Responses not cached, by reason",
		},
		[]string{"reason"},
	)

	// Invalidated counts keys dropped by ForgetPrincipal and ForgetEndpoint.
	Invalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_invalidated_total",
			Help: "Cache keys dropped by invalidation, by reason",
		},
		[]string{"reason"}, // "principal", "endpoint"
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// ConditionalRequestsSent tracks requests sent with If-None-Match or If-Modified-Since
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_conditional_requests_total",
			Help: "Total number of conditional requests sent",
		},
	)

	// CacheErrors tracks Redis failures by operation
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan"
	)
)

func scopeLabel(k Key) string {
	if k.Principal == "" {
		return PublicScope
	}
	return "private"
}
