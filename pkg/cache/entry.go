package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// PageInfo describes a cached listing envelope {"data": [...], "next": ...}.
type PageInfo struct {
	Items int    `json:"items"`
	Next  string `json:"next,omitempty"`
}

// Last reports whether the page carried no next cursor.
func (p PageInfo) Last() bool {
	return p.Next == ""
}

// Entry is a stored response body with its validators.
type Entry struct {
	Body        []byte `json:"body"`
	ContentType string `json:"content_type,omitempty"`

	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`

	// Page is nil when the body is not a listing envelope.
	Page *PageInfo `json:"page,omitempty"`

	StoredAt time.Time `json:"stored_at"`
	Expires  time.Time `json:"expires"`
}

// Expired reports whether the entry is stale at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns the time left at now, or 0.
func (e *Entry) TTL(now time.Time) time.Duration {
	if ttl := e.Expires.Sub(now); ttl > 0 {
		return ttl
	}
	return 0
}

// Conditional reports whether the entry can be revalidated.
func (e *Entry) Conditional() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// SetConditionalHeaders adds If-None-Match, or If-Modified-Since when there is no ETag.
func (e *Entry) SetConditionalHeaders(req *http.Request) {
	switch {
	case e.ETag != "":
		req.Header.Set("If-None-Match", e.ETag)
	case !e.LastModified.IsZero():
		req.Header.Set("If-Modified-Since", e.LastModified.UTC().Format(http.TimeFormat))
	}
}

// Response rebuilds a 200 response serving the stored body.
func (e *Entry) Response() *http.Response {
	header := http.Header{}
	if e.ContentType != "" {
		header.Set("Content-Type", e.ContentType)
	}
	if e.ETag != "" {
		header.Set("ETag", e.ETag)
	}
	header.Set("Age", strconv.Itoa(int(time.Since(e.StoredAt).Seconds())))

	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        fmt.Sprintf("%d %s", http.StatusOK, http.StatusText(http.StatusOK)),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
	}
}

// pageInfo inspects a body for the listing envelope.
func pageInfo(body []byte) *PageInfo {
	var envelope struct {
		Data *[]json.RawMessage `json:"data"`
		Next json.RawMessage    `json:"next"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		return nil
	}

	info := &PageInfo{Items: len(*envelope.Data)}
	var next string
	switch {
	case len(envelope.Next) == 0, string(envelope.Next) == "null":
	case json.Unmarshal(envelope.Next, &next) == nil:
		info.Next = next
	default:
		info.Next = string(envelope.Next)
	}
	return info
}
