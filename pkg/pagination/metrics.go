package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for page fetching.
var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_pages_fetched_total",
		Help: "Total number of pages fetched successfully by fetcher",
	}, []string{"fetcher"})

	pageFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_page_fetch_failures_total",
		Help: "Total number of failed page fetches by fetcher",
	}, []string{"fetcher"})

	advanceSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_advance_skipped_total",
		Help: "Advance calls that did not fetch, by fetcher and reason",
	}, []string{"fetcher", "reason"}) // reason: "loading", "exhausted", "closed"

	pageFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_page_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds by fetcher, retries included",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"fetcher"})

	pageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_page_retries_total",
		Help: "Total number of page fetch retry attempts by fetcher",
	}, []string{"fetcher"})
)
