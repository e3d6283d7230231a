package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultAttempts is how often a read is tried, first attempt included.
const DefaultAttempts = 3

// Backoff is the wait schedule for one error class.
type Backoff struct {
	// First is the wait before the second attempt.
	First time.Duration

	// Ceiling caps every wait, Retry-After hints included.
	Ceiling time.Duration

	// Factor grows the wait after each retry.
	Factor float64
}

// Step returns the wait before retry n (1 for the first retry), without jitter.
func (b Backoff) Step(n int) time.Duration {
	wait := float64(b.First)
	for i := 1; i < n; i++ {
		wait *= b.Factor
		if time.Duration(wait) >= b.Ceiling {
			return b.Ceiling
		}
	}
	return min(time.Duration(wait), b.Ceiling)
}

// BackoffFor returns the schedule of an error class.
//
// 5xx recover quickly once the backend restarts. 429 waits for the gateway
// window to refill. Network errors come from flaky mobile links.
func BackoffFor(class ErrorClass) Backoff {
	switch class {
	case ErrorClassServer:
		return Backoff{First: 500 * time.Millisecond, Ceiling: 5 * time.Second, Factor: 2}
	case ErrorClassRateLimit:
		return Backoff{First: 2 * time.Second, Ceiling: 30 * time.Second, Factor: 2}
	case ErrorClassNetwork:
		return Backoff{First: time.Second, Ceiling: 10 * time.Second, Factor: 2}
	default:
		return Backoff{First: 500 * time.Millisecond, Ceiling: 10 * time.Second, Factor: 2}
	}
}

// classifyError maps an attempt error to its class. Errors without one are network failures.
func classifyError(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

// retrier runs one request with class-based retries.
type retrier struct {
	// attempts overrides DefaultAttempts when > 0.
	attempts int

	// firstBackoff overrides Backoff.First of every class when > 0.
	firstBackoff time.Duration

	logger zerolog.Logger
}

func (r retrier) limit() int {
	if r.attempts > 0 {
		return r.attempts
	}
	return DefaultAttempts
}

func (r retrier) backoff(class ErrorClass) Backoff {
	b := BackoffFor(class)
	if r.firstBackoff > 0 {
		b.First = r.firstBackoff
		b.Ceiling = max(b.Ceiling, b.First)
	}
	return b
}

// wait returns the pause before retry n after err. A Retry-After hint
// longer than the schedule replaces it, up to the class ceiling.
func (r retrier) wait(err error, n int) (time.Duration, bool) {
	b := r.backoff(classifyError(err))
	step := b.Step(n)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > step {
		return min(apiErr.RetryAfter, b.Ceiling), true
	}
	return step, false
}

// run calls attempt until it succeeds, fails for good or the attempts run out.
// With a single attempt the error is returned as-is.
func (r retrier) run(ctx context.Context, endpoint string, attempt func(n int) error) error {
	limit := r.limit()

	for n := 1; ; n++ {
		err := attempt(n)
		if err == nil {
			if n > 1 {
				r.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", n).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		class := classifyError(err)
		if limit == 1 || !shouldRetry(class) {
			return err
		}

		if n >= limit {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			r.logger.Warn().
				Str("endpoint", endpoint).
				Str("error_class", string(class)).
				Int("attempts", n).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, n, err)
		}

		wait, hinted := r.wait(err, n)
		if !hinted {
			// ±20% jitter
			wait = time.Duration(float64(wait) * (0.8 + rand.Float64()*0.4))
		}
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		r.logger.Debug().
			Str("endpoint", endpoint).
			Str("error_class", string(class)).
			Int("attempt", n).
			Dur("backoff", wait).
			Bool("retry_after", hinted).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}
}
