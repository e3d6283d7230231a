package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Reasons a response is not stored, used as the skipped metric label.
const (
	SkipStatus   = "status"
	SkipNoStore  = "no_store"
	SkipPrivate  = "private"
	SkipLifetime = "lifetime"
)

// Policy decides which responses are stored and for how long.
type Policy struct {
	// DefaultTTL applies when the backend sends neither max-age nor Expires.
	DefaultTTL time.Duration

	// MaxTTL caps every lifetime.
	MaxTTL time.Duration

	// PrivateTTL caps per-user pages; order status changes behind them.
	PrivateTTL time.Duration

	// EmptyPageTTL caps an empty last listing page.
	EmptyPageTTL time.Duration
}

// DefaultPolicy returns the policy used by the storefront client.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:   5 * time.Minute,
		MaxTTL:       time.Hour,
		PrivateTTL:   time.Minute,
		EmptyPageTTL: 30 * time.Second,
	}
}

// Entry builds the entry for resp and restores its body for the caller.
// skip names the reason when the response must not be stored; entry is nil then.
func (p Policy) Entry(resp *http.Response, private bool, now time.Time) (entry *Entry, skip string, err error) {
	if resp.StatusCode != http.StatusOK {
		return nil, SkipStatus, nil
	}

	directives := cacheControl(resp.Header)
	if _, ok := directives["no-store"]; ok {
		return nil, SkipNoStore, nil
	}
	if _, ok := directives["no-cache"]; ok {
		return nil, SkipNoStore, nil
	}
	if _, ok := directives["private"]; ok && !private {
		return nil, SkipPrivate, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry = &Entry{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Page:        pageInfo(body),
		StoredAt:    now,
	}
	if raw := resp.Header.Get("Last-Modified"); raw != "" {
		if t, err := http.ParseTime(raw); err == nil {
			entry.LastModified = t
		}
	}

	ttl := p.lifetime(resp.Header, directives, private, entry.Page, now)
	if ttl <= 0 {
		return nil, SkipLifetime, nil
	}
	entry.Expires = now.Add(ttl)
	return entry, "", nil
}

// Revalidate extends entry after a 304 using the headers that came with it.
// The stored page shape decides the caps, since a 304 has no body.
func (p Policy) Revalidate(entry *Entry, header http.Header, private bool, now time.Time) bool {
	directives := cacheControl(header)
	if _, ok := directives["no-store"]; ok {
		return false
	}
	if etag := header.Get("ETag"); etag != "" {
		entry.ETag = etag
	}

	ttl := p.lifetime(header, directives, private, entry.Page, now)
	if ttl <= 0 {
		return false
	}
	entry.Expires = now.Add(ttl)
	return true
}

func (p Policy) lifetime(header http.Header, directives map[string]string, private bool, page *PageInfo, now time.Time) time.Duration {
	ttl := p.DefaultTTL
	if raw, ok := directives["max-age"]; ok {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			return 0
		}
		ttl = time.Duration(seconds) * time.Second
	} else if raw := header.Get("Expires"); raw != "" {
		// An unparseable Expires means already expired.
		expires, err := http.ParseTime(raw)
		if err != nil {
			return 0
		}
		ttl = expires.Sub(now)
	}

	ttl = capTTL(ttl, p.MaxTTL)
	if private {
		ttl = capTTL(ttl, p.PrivateTTL)
	}
	if page != nil && page.Items == 0 && page.Last() {
		ttl = capTTL(ttl, p.EmptyPageTTL)
	}
	return ttl
}

func capTTL(ttl, limit time.Duration) time.Duration {
	if limit > 0 && ttl > limit {
		return limit
	}
	return ttl
}

// cacheControl parses Cache-Control into lower-cased directives.
func cacheControl(header http.Header) map[string]string {
	directives := map[string]string{}
	for _, line := range header.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
			if name == "" {
				continue
			}
			directives[strings.ToLower(name)] = strings.Trim(value, `"`)
		}
	}
	return directives
}
