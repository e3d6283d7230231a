// Package testutil provides testing utilities for the storefront client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// listing is a paged collection served in {"data": [...], "next": ...} envelopes.
type listing struct {
	items       []any
	pageSize    int
	version     int
	requireAuth bool
	filterParam string
	filterField func(item any) string
}

// fault is a response returned instead of the real one for the next count requests.
type fault struct {
	count int
	resp  MockResponse
}

// MockStorefront is a configurable mock storefront backend for testing.
type MockStorefront struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	listings map[string]*listing
	faults   map[string]*fault

	// Credentials accepted by the login endpoint.
	phone, password      string
	accessToken, refresh string
	rateRemaining        int
	rateReset            time.Duration

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	Requests          []string
}

// NewMockStorefront creates a new mock storefront server.
func NewMockStorefront() *MockStorefront {
	mock := &MockStorefront{
		handlers:      make(map[string]func(w http.ResponseWriter, r *http.Request)),
		listings:      make(map[string]*listing),
		faults:        make(map[string]*fault),
		rateRemaining: 100,
		rateReset:     time.Minute,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.Requests = append(mock.Requests, r.URL.RequestURI())

		// Track conditional requests
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}

		remaining, reset := mock.rateRemaining, mock.rateReset
		var injected *MockResponse
		if f, ok := mock.faults[r.URL.Path]; ok && f.count > 0 {
			f.count--
			resp := f.resp
			injected = &resp
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(reset.Seconds())))

		if injected != nil {
			writeResponse(w, *injected)
			return
		}

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockStorefront) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockStorefront) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockStorefront) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.Requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockStorefront) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockStorefront) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetListing serves items at path, pageSize per page.
func (m *MockStorefront) SetListing(path string, items []any, pageSize int) {
	if pageSize <= 0 {
		pageSize = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	version := 1
	if old, ok := m.listings[path]; ok {
		version = old.version + 1
	}
	m.listings[path] = &listing{items: items, pageSize: pageSize, version: version}
}

// FilterListing narrows a listing to items whose field matches the query
// parameter param, when the request carries it.
func (m *MockStorefront) FilterListing(path, param string, field func(item any) string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.listings[path]; ok {
		l.filterParam = param
		l.filterField = field
	}
}

// RequireAuth makes a listing answer 401 without the session's bearer token.
func (m *MockStorefront) RequireAuth(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.listings[path]; ok {
		l.requireAuth = true
	}
}

// SetCredentials configures the login endpoint and the tokens it issues.
func (m *MockStorefront) SetCredentials(phone, password, accessToken, refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phone, m.password = phone, password
	m.accessToken, m.refresh = accessToken, refreshToken
}

// FailNext makes the next count requests to path return resp.
func (m *MockStorefront) FailNext(path string, count int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[path] = &fault{count: count, resp: resp}
}

// SetRateLimit sets the rate limit headers sent with every response.
func (m *MockStorefront) SetRateLimit(remaining int, reset time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateRemaining = remaining
	m.rateReset = reset
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockStorefront) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockStorefront) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockStorefront) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// GetRequests returns the request URIs in arrival order.
func (m *MockStorefront) GetRequests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Requests...)
}

// defaultHandler serves the login endpoint and configured listings.
func (m *MockStorefront) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if strings.HasSuffix(r.URL.Path, "/auth/login/") {
		m.handleLogin(w, r)
		return
	}

	m.mu.RLock()
	l, ok := m.listings[r.URL.Path]
	token := m.accessToken
	m.mu.RUnlock()

	if !ok {
		writeJSONError(w, http.StatusNotFound, "Not found.")
		return
	}

	if l.requireAuth && r.Header.Get("Authorization") != "Bearer "+token {
		writeJSONError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
		return
	}

	m.servePage(w, r, l)
}

func (m *MockStorefront) servePage(w http.ResponseWriter, r *http.Request, l *listing) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			writeJSONError(w, http.StatusBadRequest, "Invalid page.")
			return
		}
		page = p
	}

	items := l.items
	if l.filterParam != "" && l.filterField != nil {
		if want := r.URL.Query().Get(l.filterParam); want != "" {
			items = nil
			for _, item := range l.items {
				if l.filterField(item) == want {
					items = append(items, item)
				}
			}
		}
	}

	etag := fmt.Sprintf(`"v%d-%s"`, l.version, r.URL.RawQuery)
	w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	start := (page - 1) * l.pageSize
	end := start + l.pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	body := struct {
		Data []any   `json:"data"`
		Next *string `json:"next"`
	}{Data: append([]any{}, items[start:end]...)}
	if end < len(items) {
		next := strconv.Itoa(page + 1)
		body.Next = &next
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (m *MockStorefront) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	var creds struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Malformed body.")
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.phone == "" || creds.Phone != m.phone || creds.Password != m.password {
		writeJSONError(w, http.StatusUnauthorized, "Invalid phone or password.")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"access":  m.accessToken,
		"refresh": m.refresh,
	})
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// NewHealthyResponse creates a standard 200 OK response with cache headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"ETag":         `"test-etag-123"`,
			"Expires":      time.Now().Add(5 * time.Minute).Format(http.TimeFormat),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail": "Request was throttled."}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewUnavailableResponse creates a 503 Service Unavailable response.
func NewUnavailableResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"detail": "Service temporarily unavailable"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
