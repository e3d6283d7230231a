// Package listing binds paged fetchers to list-rendering surfaces.
//
// A Feed owns the PagedFetcher of the query currently on screen. The
// surface reports how far the user has scrolled with NearEnd, swaps the
// query with SetQuery and renders whatever View returns.
package listing

import (
	"context"
	"sync"

	"github.com/Sternrassler/storefront-client/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultThreshold is how many items before the end of the list a NearEnd signal triggers a fetch.
const DefaultThreshold = 5

// SourceFunc builds the page fetch function for a query.
type SourceFunc[T any, Q comparable] func(query Q) pagination.FetchFunc[T]

// Config holds feed configuration.
type Config struct {
	// Name labels the feed's fetchers in logs and metrics.
	Name string

	// Threshold is the distance from the end of the list that counts as near the end.
	// Zero means DefaultThreshold.
	Threshold int

	// Retry is applied to every fetcher the feed creates.
	Retry pagination.RetryPolicy

	// Logger defaults to the global logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a feed configuration without in-call retries.
func DefaultConfig(name string) Config {
	return Config{
		Name:      name,
		Threshold: DefaultThreshold,
		Retry:     pagination.NoRetry(),
	}
}

// View is what a list surface needs to render.
type View[T any] struct {
	Items   []T   `json:"items"`
	Loading bool  `json:"loading"`
	HasMore bool  `json:"has_more"`
	Empty   bool  `json:"empty"`
	Failed  bool  `json:"failed"`
	Err     error `json:"-"`
}

// Message returns the failure message for an error banner, or "".
func (v View[T]) Message() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// Feed is the list consumer for one screen. It is safe for concurrent use.
type Feed[T any, Q comparable] struct {
	source SourceFunc[T, Q]
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	query   Q
	fetcher *pagination.PagedFetcher[T]
	mounted bool
}

// NewFeed creates a mounted feed for the initial query. Nothing is fetched until the first signal.
func NewFeed[T any, Q comparable](query Q, source SourceFunc[T, Q], config Config) *Feed[T, Q] {
	if source == nil {
		panic("listing: source cannot be nil")
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Name == "" {
		config.Name = "feed"
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	feed := &Feed[T, Q]{
		source:  source,
		config:  config,
		logger:  logger.With().Str("component", "feed").Str("feed", config.Name).Logger(),
		query:   query,
		mounted: true,
	}
	feed.fetcher = feed.newFetcher(query)
	return feed
}

func (f *Feed[T, Q]) newFetcher(query Q) *pagination.PagedFetcher[T] {
	return pagination.New(f.source(query),
		pagination.WithName(f.config.Name),
		pagination.WithLogger(f.logger),
		pagination.WithRetryPolicy(f.config.Retry),
		pagination.WithErrorReporter(func(page int, err error) {
			f.logger.Error().
				Err(err).
				Int("page", page).
				Interface("query", query).
				Msg("Feed page failed")
		}),
	)
}

// current returns the active fetcher, or nil once unmounted.
func (f *Feed[T, Q]) current() *pagination.PagedFetcher[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted {
		return nil
	}
	return f.fetcher
}

// Load fetches the next page regardless of scroll position, typically on mount.
func (f *Feed[T, Q]) Load(ctx context.Context) bool {
	fetcher := f.current()
	if fetcher == nil {
		return false
	}
	return fetcher.Advance(ctx)
}

// NearEnd handles a scroll signal. lastVisible is the index of the last
// item on screen; a fetch starts when it is within Threshold of the end.
func (f *Feed[T, Q]) NearEnd(ctx context.Context, lastVisible int) bool {
	fetcher := f.current()
	if fetcher == nil {
		return false
	}

	if lastVisible < fetcher.Len()-f.config.Threshold {
		return false
	}
	return fetcher.Advance(ctx)
}

// SetQuery switches to a new query. An unchanged query keeps the current
// session; a different one closes it and loads page 1 of the new query.
func (f *Feed[T, Q]) SetQuery(ctx context.Context, query Q) bool {
	f.mu.Lock()
	if !f.mounted {
		f.mu.Unlock()
		return false
	}
	if query == f.query {
		f.mu.Unlock()
		return false
	}

	old := f.fetcher
	f.query = query
	f.fetcher = f.newFetcher(query)
	fetcher := f.fetcher
	f.mu.Unlock()

	old.Close()
	f.logger.Debug().Interface("query", query).Msg("Feed query changed")

	return fetcher.Advance(ctx)
}

// Query returns the active query.
func (f *Feed[T, Q]) Query() Q {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query
}

// Refresh drops loaded items and fetches page 1 of the same query again.
func (f *Feed[T, Q]) Refresh(ctx context.Context) bool {
	fetcher := f.current()
	if fetcher == nil {
		return false
	}
	fetcher.Reset()
	return fetcher.Advance(ctx)
}

// View returns the render state of the active session.
func (f *Feed[T, Q]) View() View[T] {
	fetcher := f.current()
	if fetcher == nil {
		return View[T]{Items: []T{}}
	}

	state := fetcher.Snapshot()
	return View[T]{
		Items:   state.Items,
		Loading: state.Loading,
		HasMore: state.HasMore,
		Empty:   len(state.Items) == 0 && state.Exhausted(),
		Failed:  state.Err != nil,
		Err:     state.Err,
	}
}

// Unmount closes the active session; later signals are ignored.
func (f *Feed[T, Q]) Unmount() {
	f.mu.Lock()
	if !f.mounted {
		f.mu.Unlock()
		return
	}
	f.mounted = false
	fetcher := f.fetcher
	f.mu.Unlock()

	fetcher.Close()
	f.logger.Debug().Msg("Feed unmounted")
}
