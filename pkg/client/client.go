// Package client provides the storefront API client with rate limiting,
// caching, circuit breaking and error handling.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/storefront-client/pkg/cache"
	"github.com/Sternrassler/storefront-client/pkg/logging"
	"github.com/Sternrassler/storefront-client/pkg/ratelimit"
	"github.com/Sternrassler/storefront-client/pkg/secrets"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Prometheus metrics for storefront client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_requests_total",
		Help: "Total storefront API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_request_duration_seconds",
		Help:    "Storefront API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_errors_total",
		Help: "Total storefront API errors by class",
	}, []string{"class"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storefront_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})
)

// RequestIDHeader carries a per-request UUID for backend log correlation.
const RequestIDHeader = "X-Request-ID"

// errBackendFailure marks responses that count as breaker failures.
var errBackendFailure = errors.New("backend failure")

// Client is the storefront API client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	redis       *redis.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	secrets     secrets.Store
	breaker     *gobreaker.CircuitBreaker
	retry       retrier
	config      Config
	logger      zerolog.Logger
}

// BreakerConfig configures the circuit breaker around backend calls.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval clears the failure counts while closed. 0 never clears.
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration

	// MinRequests before the failure ratio is considered.
	MinRequests uint32

	// FailureRatio at or above which the breaker opens.
	FailureRatio float64
}

// Config holds the client configuration.
type Config struct {
	// Redis client for caching and rate limit state
	Redis *redis.Client

	// BaseURL of the storefront API, e.g. "https://api.pharmacy.example"
	BaseURL string

	// User-Agent header, e.g. "PharmacyApp/2.3.0 (ios)"
	UserAgent string

	// Secrets holds session tokens. Defaults to an in-memory store.
	Secrets secrets.Store

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry overrides; 0 keeps the per-class defaults
	MaxRetries     int
	InitialBackoff time.Duration

	Breaker BreakerConfig

	// Cache decides which listing pages are kept and for how long.
	// The zero value means cache.DefaultPolicy().
	Cache cache.Policy
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, baseURL, userAgent string) Config {
	return Config{
		Redis:     redis,
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   15 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:  5,
			Interval:     30 * time.Second,
			OpenTimeout:  10 * time.Second,
			MinRequests:  5,
			FailureRatio: 0.6,
		},
		Cache: cache.DefaultPolicy(),
	}
}

// New creates a new storefront client.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	if cfg.Secrets == nil {
		cfg.Secrets = secrets.NewMemoryStore()
	}

	if cfg.Cache == (cache.Policy{}) {
		cfg.Cache = cache.DefaultPolicy()
	}

	logger := logging.NewLogger("storefront-client")

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     baseURL,
		redis:       cfg.Redis,
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		cache:       cache.NewManager(cfg.Redis, cfg.Cache),
		secrets:     cfg.Secrets,
		breaker:     newBreaker(cfg.Breaker, logger),
		retry: retrier{
			attempts:     cfg.MaxRetries,
			firstBackoff: cfg.InitialBackoff,
			logger:       logger,
		},
		config: cfg,
		logger: logger,
	}, nil
}

func newBreaker(cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	const name = "storefront-api"
	breakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.FailureRatio <= 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Do performs an HTTP request with rate limiting, caching, and error handling.
// Non-retryable 4xx responses are returned to the caller as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check Rate Limit
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	// Step 2: Attach session
	principal := c.authorize(req)

	// Step 3: Check Cache (GET only)
	cacheable := req.Method == http.MethodGet
	cacheKey := cache.Key{
		Endpoint:    endpoint,
		QueryParams: req.URL.Query(),
		Principal:   principal,
	}

	var cachedEntry *cache.Entry
	if cacheable {
		cachedEntry, err = c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}

		if cachedEntry != nil && cachedEntry.Conditional() {
			cachedEntry.SetConditionalHeaders(req)
			cache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", cachedEntry.ETag).
				Msg("Making conditional request")
		}
	}

	// Step 4: Request headers
	requestID := uuid.NewString()
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("request_id", requestID).
		Msg("Executing storefront request")

	// Step 5: Execute with circuit breaker and retry
	var resp *http.Response

	// Only reads are safe to repeat; a retried POST could place an order twice.
	retry := c.retry
	if !cacheable {
		retry.attempts = 1
	}

	retryErr := retry.run(ctx, endpoint, func(attempt int) error {
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		result, execErr := c.breaker.Execute(func() (interface{}, error) {
			r, err := c.httpClient.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, errBackendFailure
			}
			return r, nil
		})

		resp = nil
		if r, ok := result.(*http.Response); ok {
			resp = r
		}

		if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
			errorsTotal.WithLabelValues(string(ErrorClassUnavailable)).Inc()
			requestsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
			return &APIError{
				ErrorClass: ErrorClassUnavailable,
				Message:    "backend temporarily unavailable",
				Err:        ErrCircuitOpen,
			}
		}

		// Network errors
		if resp == nil {
			c.logger.Error().Err(execErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &APIError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        execErr,
			}
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		if resp.StatusCode == http.StatusNotModified {
			return nil
		}

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status_code", resp.StatusCode).
				Str("error_class", string(errClass)).
				Str("request_id", requestID).
				Msg("Storefront request error")

			if shouldRetry(errClass) {
				return errorFromResponse(resp)
			}

			// Don't retry client errors - let caller handle status
			return nil
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	// Step 6: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()

		// Without a stored copy there is nothing to serve.
		if cachedEntry == nil {
			errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
			c.logger.Error().
				Str("endpoint", endpoint).
				Str("request_id", requestID).
				Msg("304 Not Modified without a cached copy")
			return nil, &APIError{
				StatusCode: http.StatusNotModified,
				ErrorClass: ErrorClassServer,
				Message:    "not modified without a conditional request",
				Err:        ErrUnexpectedNotModified,
			}
		}

		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		requestsTotal.WithLabelValues(endpoint, "304").Inc()

		if err := c.cache.Revalidated(ctx, cacheKey, cachedEntry, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to renew cached page")
		}
		return cachedEntry.Response(), nil
	}

	// Step 7: Update Cache on success
	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := c.cache.Store(ctx, cacheKey, resp)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
		case entry != nil:
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", time.Until(entry.Expires)).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// authorize adds the bearer token, if any, and returns the cache principal for it.
func (c *Client) authorize(req *http.Request) string {
	token, err := c.secrets.Get(req.Context(), secrets.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, secrets.ErrNotFound) {
			c.logger.Warn().Err(err).Msg("Failed to read access token")
		}
		return ""
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return principalOf(token)
}

// principalOf derives the cache scope of a session from its token.
func principalOf(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// principal returns the cache scope of the stored session, or "".
func (c *Client) principal(ctx context.Context) string {
	token, err := c.secrets.Get(ctx, secrets.KeyAccessToken)
	if err != nil {
		return ""
	}
	return principalOf(token)
}

// resolve builds an absolute URL for an API path.
func (c *Client) resolve(path string, query url.Values) string {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Get performs a GET request to an API path.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// getJSON performs a GET and decodes a 2xx JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// postJSON performs a POST with a JSON body and decodes a 2xx JSON body into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path, nil), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// maxErrorBody caps how much of an error body is read.
const maxErrorBody = 64 << 10

// errorFromResponse reads and closes an error response and builds its APIError.
// The message is the body's detail or message field, else the status line.
func errorFromResponse(resp *http.Response) *APIError {
	defer resp.Body.Close()

	message := resp.Status
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Detail != "":
			message = body.Detail
		case body.Message != "":
			message = body.Message
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    message,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// decodeResponse turns 4xx bodies into APIError and decodes 2xx bodies into out.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Close closes the client and releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager (for testing).
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the rate limit tracker (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// Secrets returns the secret store holding the session.
func (c *Client) Secrets() secrets.Store {
	return c.secrets
}
