package pagination

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrFetchPanic is reported when the fetch function panics.
	ErrFetchPanic = errors.New("page fetch panicked")

	// ErrBusy is returned by Drain when another caller holds the fetcher in a loading state.
	ErrBusy = errors.New("fetcher busy")
)

// Page is one fetch result: the items of a page plus the cursor of the next one.
type Page[T any] struct {
	// Data holds the page items in backend order.
	Data []T `json:"data"`

	// Next is an opaque cursor for the following page. Empty means no more pages.
	Next string `json:"next,omitempty"`
}

// HasNext reports whether the backend announced another page.
func (p Page[T]) HasNext() bool {
	return p.Next != ""
}

// FetchFunc fetches a single page by its 1-based page number.
type FetchFunc[T any] func(ctx context.Context, page int) (Page[T], error)

// ErrorReporter receives fetch failures after they have been logged.
type ErrorReporter func(page int, err error)

// State is a point-in-time copy of the fetcher state.
type State[T any] struct {
	CurrentPage int
	Items       []T
	Loading     bool
	HasMore     bool
	Err         error
}

// Exhausted reports whether every page was loaded without a pending failure.
func (s State[T]) Exhausted() bool {
	return !s.HasMore && s.Err == nil
}

// Option configures a PagedFetcher.
type Option func(*options)

type options struct {
	name   string
	logger zerolog.Logger
	report ErrorReporter
	retry  RetryPolicy
}

// WithName sets the fetcher name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithErrorReporter registers a callback for fetch failures.
func WithErrorReporter(report ErrorReporter) Option {
	return func(o *options) {
		o.report = report
	}
}

// WithRetryPolicy enables bounded retries inside a single Advance call.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *options) {
		o.retry = policy
	}
}

// PagedFetcher accumulates the pages of one list session.
// It is safe for concurrent use.
type PagedFetcher[T any] struct {
	fetch  FetchFunc[T]
	name   string
	logger zerolog.Logger
	report ErrorReporter
	retry  RetryPolicy

	mu         sync.Mutex
	page       int
	items      []T
	loading    bool
	hasMore    bool
	err        error
	generation uint64
	closed     bool
}

// New creates a fetcher positioned before page 1.
func New[T any](fetch FetchFunc[T], opts ...Option) *PagedFetcher[T] {
	if fetch == nil {
		panic("pagination: fetch function cannot be nil")
	}

	o := options{
		name:   "default",
		logger: log.Logger,
		retry:  NoRetry(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &PagedFetcher[T]{
		fetch:   fetch,
		name:    o.name,
		logger:  o.logger.With().Str("fetcher", o.name).Logger(),
		report:  o.report,
		retry:   o.retry,
		page:    1,
		items:   []T{},
		hasMore: true,
	}
}

// Advance fetches the next page and appends its items.
// It returns false without calling the fetch function when a fetch is
// already in flight, the session is exhausted or the fetcher is closed.
// It blocks until the fetch completes and never returns an error; see Err.
func (f *PagedFetcher[T]) Advance(ctx context.Context) bool {
	f.mu.Lock()
	if reason := f.skipReason(); reason != "" {
		f.mu.Unlock()
		advanceSkipped.WithLabelValues(f.name, reason).Inc()
		f.logger.Debug().Str("reason", reason).Msg("Advance skipped")
		return false
	}
	f.loading = true
	generation := f.generation
	page := f.page
	f.mu.Unlock()

	start := time.Now()
	result, err := f.fetchPage(ctx, page)
	pageFetchDuration.WithLabelValues(f.name).Observe(time.Since(start).Seconds())

	f.mu.Lock()
	if generation != f.generation {
		f.mu.Unlock()
		f.logger.Debug().
			Int("page", page).
			Msg("Discarding page from a previous session")
		return true
	}

	if err != nil {
		f.err = err
		f.loading = false
		f.mu.Unlock()

		pageFetchFailures.WithLabelValues(f.name).Inc()
		f.logger.Warn().
			Err(err).
			Int("page", page).
			Dur("duration", time.Since(start)).
			Msg("Page fetch failed")
		if f.report != nil {
			f.report(page, err)
		}
		return true
	}

	f.items = append(f.items, result.Data...)
	f.hasMore = result.HasNext()
	f.page++
	f.err = nil
	f.loading = false
	total := len(f.items)
	hasMore := f.hasMore
	f.mu.Unlock()

	pagesFetched.WithLabelValues(f.name).Inc()
	f.logger.Debug().
		Int("page", page).
		Int("items", len(result.Data)).
		Int("total", total).
		Bool("has_more", hasMore).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")

	return true
}

// skipReason returns why Advance must not fetch, or "" when it may. Callers hold mu.
func (f *PagedFetcher[T]) skipReason() string {
	switch {
	case f.closed:
		return "closed"
	case f.loading:
		return "loading"
	case !f.hasMore:
		return "exhausted"
	default:
		return ""
	}
}

// fetchPage runs the fetch function under the retry policy.
func (f *PagedFetcher[T]) fetchPage(ctx context.Context, page int) (Page[T], error) {
	var result Page[T]
	err := f.retry.run(ctx, f.logger, f.name, func() error {
		var err error
		result, err = f.callFetch(ctx, page)
		return err
	})
	return result, err
}

// callFetch converts a panicking fetch function into an error so that Loading is always cleared.
func (f *PagedFetcher[T]) callFetch(ctx context.Context, page int) (result Page[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: page %d: %v", ErrFetchPanic, page, r)
		}
	}()
	return f.fetch(ctx, page)
}

// Reset starts a new session at page 1 with no items.
// A fetch in flight at the time of the reset is discarded when it completes.
func (f *PagedFetcher[T]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.generation++
	f.page = 1
	f.items = []T{}
	f.loading = false
	f.hasMore = true
	f.err = nil

	f.logger.Debug().Uint64("generation", f.generation).Msg("Fetcher reset")
}

// Close ends the session. Later Advance calls are no-ops and in-flight results are dropped.
func (f *PagedFetcher[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.generation++
	f.loading = false
}

// Items returns a copy of the accumulated items.
func (f *PagedFetcher[T]) Items() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.items)
}

// Len returns the number of accumulated items.
func (f *PagedFetcher[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Loading reports whether a fetch is in flight.
func (f *PagedFetcher[T]) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// HasMore reports whether another page may exist.
func (f *PagedFetcher[T]) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// CurrentPage returns the page number the next Advance will request.
func (f *PagedFetcher[T]) CurrentPage() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}

// Err returns the last fetch failure, or nil after a successful page or Reset.
func (f *PagedFetcher[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Closed reports whether Close was called.
func (f *PagedFetcher[T]) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Snapshot returns a consistent copy of the whole state.
func (f *PagedFetcher[T]) Snapshot() State[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State[T]{
		CurrentPage: f.page,
		Items:       slices.Clone(f.items),
		Loading:     f.loading,
		HasMore:     f.hasMore,
		Err:         f.err,
	}
}

// Drain advances until the session is exhausted, maxPages pages were
// fetched by this call (0 means no limit), a fetch fails or ctx is done.
// It returns the items accumulated so far together with the failure, if any.
func Drain[T any](ctx context.Context, f *PagedFetcher[T], maxPages int) ([]T, error) {
	start := time.Now()
	fetched := 0

	for f.HasMore() && (maxPages <= 0 || fetched < maxPages) {
		if err := ctx.Err(); err != nil {
			return f.Items(), err
		}
		if !f.Advance(ctx) {
			if f.Closed() {
				break
			}
			return f.Items(), ErrBusy
		}
		if err := f.Err(); err != nil {
			return f.Items(), fmt.Errorf("drain page %d: %w", f.CurrentPage(), err)
		}
		fetched++
	}

	items := f.Items()
	f.logger.Info().
		Int("pages", fetched).
		Int("items", len(items)).
		Bool("has_more", f.HasMore()).
		Dur("duration", time.Since(start)).
		Msg("Drain complete")

	return items, nil
}
