package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no fresh entry exists for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// scanBatch is the COUNT hint for invalidation scans.
const scanBatch = 100

// Manager stores listing pages in Redis under a Policy.
type Manager struct {
	redis  *redis.Client
	policy Policy
	now    func() time.Time
}

// NewManager creates a cache manager. It panics on a nil Redis client.
func NewManager(redisClient *redis.Client, policy Policy) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		policy: policy,
		now:    time.Now,
	}
}

// Policy returns the manager's policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Get returns the fresh entry for key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	scope := scopeLabel(key)

	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		CacheMisses.WithLabelValues(scope).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.Expired(m.now()) {
		_ = m.Delete(ctx, key)
		CacheMisses.WithLabelValues(scope).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(scope).Inc()
	return &entry, nil
}

// Store caches resp under key when the policy allows it. The response body
// stays readable. A nil entry with a nil error means the policy skipped it.
func (m *Manager) Store(ctx context.Context, key Key, resp *http.Response) (*Entry, error) {
	entry, skip, err := m.policy.Entry(resp, key.Principal != "", m.now())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		Skipped.WithLabelValues(skip).Inc()
		return nil, nil
	}

	if err := m.Put(ctx, key, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Put writes entry with the time left until its expiry. Stale entries are not written.
func (m *Manager) Put(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL(m.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoredBytes.WithLabelValues(scopeLabel(key)).Add(float64(len(data)))
	return nil
}

// Revalidated records a 304 for entry: the lifetime is renewed from header,
// or the entry is dropped when the backend no longer allows storing it.
func (m *Manager) Revalidated(ctx context.Context, key Key, entry *Entry, header http.Header) error {
	NotModifiedResponses.Inc()
	if !m.policy.Revalidate(entry, header, key.Principal != "", m.now()) {
		return m.Delete(ctx, key)
	}
	return m.Put(ctx, key, entry)
}

// Delete removes one entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ForgetPrincipal drops every page cached for principal and returns how many keys were removed.
func (m *Manager) ForgetPrincipal(ctx context.Context, principal string) (int, error) {
	if principal == "" {
		return 0, fmt.Errorf("principal is required")
	}
	prefix := KeyPrefix + ":" + scopeOf(principal) + ":"
	n, err := m.deleteMatching(ctx, matchPattern(prefix), nil)
	Invalidated.WithLabelValues("principal").Add(float64(n))
	return n, err
}

// ForgetEndpoint drops every cached page of one listing, all queries included.
func (m *Manager) ForgetEndpoint(ctx context.Context, principal, endpoint string) (int, error) {
	base := Key{Endpoint: endpoint, Principal: principal}.endpointKey()
	n, err := m.deleteMatching(ctx, matchPattern(base), func(key string) bool {
		return key == base || strings.HasPrefix(key, base+":")
	})
	Invalidated.WithLabelValues("endpoint").Add(float64(n))
	return n, err
}

// deleteMatching scans for pattern and deletes the keys accepted by keep (all when nil).
func (m *Manager) deleteMatching(ctx context.Context, pattern string, keep func(string) bool) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			CacheErrors.WithLabelValues("scan").Inc()
			return deleted, fmt.Errorf("redis scan: %w", err)
		}

		batch := keys[:0]
		for _, key := range keys {
			if keep == nil || keep(key) {
				batch = append(batch, key)
			}
		}
		if len(batch) > 0 {
			n, err := m.redis.Del(ctx, batch...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("delete").Inc()
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
