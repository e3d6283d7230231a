package cache

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

var policyNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func listingResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

const productsPage = `{"data":[{"id":1,"name":"Ibuprofen 400mg"},{"id":2,"name":"Paracetamol 500mg"}],"next":"2"}`

func TestPolicy_Entry(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name     string
		status   int
		body     string
		headers  map[string]string
		private  bool
		wantSkip string
		wantTTL  time.Duration
	}{
		{
			name:    "catalog page without caching headers",
			status:  http.StatusOK,
			body:    productsPage,
			wantTTL: 5 * time.Minute,
		},
		{
			name:    "max-age wins over Expires",
			status:  http.StatusOK,
			body:    productsPage,
			headers: map[string]string{"Cache-Control": "public, max-age=120", "Expires": policyNow.Add(time.Hour).Format(http.TimeFormat)},
			wantTTL: 2 * time.Minute,
		},
		{
			name:    "Expires",
			status:  http.StatusOK,
			body:    productsPage,
			headers: map[string]string{"Expires": policyNow.Add(10 * time.Minute).Format(http.TimeFormat)},
			wantTTL: 10 * time.Minute,
		},
		{
			name:    "capped at MaxTTL",
			status:  http.StatusOK,
			body:    productsPage,
			headers: map[string]string{"Cache-Control": "max-age=86400"},
			wantTTL: time.Hour,
		},
		{
			name:    "order history capped at PrivateTTL",
			status:  http.StatusOK,
			body:    `{"data":[{"id":41,"status":"pending"}],"next":null}`,
			headers: map[string]string{"Cache-Control": "private, max-age=600"},
			private: true,
			wantTTL: time.Minute,
		},
		{
			name:    "empty last page capped at EmptyPageTTL",
			status:  http.StatusOK,
			body:    `{"data":[],"next":null}`,
			wantTTL: 30 * time.Second,
		},
		{
			name:    "empty page with a next cursor is not capped",
			status:  http.StatusOK,
			body:    `{"data":[],"next":"3"}`,
			wantTTL: 5 * time.Minute,
		},
		{
			name:     "error status",
			status:   http.StatusServiceUnavailable,
			body:     `{"detail":"maintenance"}`,
			wantSkip: SkipStatus,
		},
		{
			name:     "no-store",
			status:   http.StatusOK,
			body:     productsPage,
			headers:  map[string]string{"Cache-Control": "no-store"},
			wantSkip: SkipNoStore,
		},
		{
			name:     "private response without a session",
			status:   http.StatusOK,
			body:     productsPage,
			headers:  map[string]string{"Cache-Control": "private"},
			wantSkip: SkipPrivate,
		},
		{
			name:     "already expired",
			status:   http.StatusOK,
			body:     productsPage,
			headers:  map[string]string{"Expires": policyNow.Add(-time.Minute).Format(http.TimeFormat)},
			wantSkip: SkipLifetime,
		},
		{
			name:     "max-age zero",
			status:   http.StatusOK,
			body:     productsPage,
			headers:  map[string]string{"Cache-Control": "max-age=0"},
			wantSkip: SkipLifetime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := listingResponse(tt.status, tt.body, tt.headers)
			entry, skip, err := policy.Entry(resp, tt.private, policyNow)
			if err != nil {
				t.Fatalf("Entry() failed: %v", err)
			}
			if skip != tt.wantSkip {
				t.Fatalf("skip = %q, want %q", skip, tt.wantSkip)
			}
			if tt.wantSkip != "" {
				if entry != nil {
					t.Errorf("skipped response produced entry %+v", entry)
				}
				return
			}

			if got := entry.TTL(policyNow); got != tt.wantTTL {
				t.Errorf("TTL = %v, want %v", got, tt.wantTTL)
			}
			if string(entry.Body) != tt.body {
				t.Errorf("Body = %s, want %s", entry.Body, tt.body)
			}

			// The caller still reads the page.
			rest, _ := io.ReadAll(resp.Body)
			if string(rest) != tt.body {
				t.Errorf("response body after Entry() = %s", rest)
			}
		})
	}
}

func TestPolicy_EntryRecordsValidatorsAndPage(t *testing.T) {
	resp := listingResponse(http.StatusOK, productsPage, map[string]string{
		"ETag":          `"v1-page=1"`,
		"Last-Modified": "Sat, 01 Mar 2025 09:30:00 GMT",
	})

	entry, _, err := DefaultPolicy().Entry(resp, false, policyNow)
	if err != nil {
		t.Fatalf("Entry() failed: %v", err)
	}
	if entry.ETag != `"v1-page=1"` || entry.LastModified.IsZero() {
		t.Errorf("validators = %q / %v", entry.ETag, entry.LastModified)
	}
	if entry.Page == nil || entry.Page.Items != 2 || entry.Page.Next != "2" {
		t.Errorf("Page = %+v, want 2 items with next 2", entry.Page)
	}
	if entry.ContentType != "application/json" || !entry.StoredAt.Equal(policyNow) {
		t.Errorf("entry = %+v", entry)
	}
}

func TestPolicy_Revalidate(t *testing.T) {
	policy := DefaultPolicy()

	t.Run("renews lifetime and etag", func(t *testing.T) {
		entry := &Entry{ETag: `"v1"`, Page: &PageInfo{Items: 2, Next: "2"}, Expires: policyNow}
		later := policyNow.Add(time.Minute)

		ok := policy.Revalidate(entry, http.Header{"Cache-Control": {"max-age=300"}, "Etag": {`"v2"`}}, false, later)
		if !ok {
			t.Fatal("Revalidate() = false, want true")
		}
		if !entry.Expires.Equal(later.Add(5*time.Minute)) || entry.ETag != `"v2"` {
			t.Errorf("entry after 304 = %+v", entry)
		}
	})

	t.Run("empty page keeps its cap", func(t *testing.T) {
		entry := &Entry{Page: &PageInfo{}, Expires: policyNow}
		policy.Revalidate(entry, http.Header{"Cache-Control": {"max-age=3600"}}, false, policyNow)
		if got := entry.TTL(policyNow); got != 30*time.Second {
			t.Errorf("TTL = %v, want 30s", got)
		}
	})

	t.Run("no-store drops the entry", func(t *testing.T) {
		entry := &Entry{Expires: policyNow.Add(time.Minute)}
		if policy.Revalidate(entry, http.Header{"Cache-Control": {"no-store"}}, false, policyNow) {
			t.Error("Revalidate() = true, want false")
		}
	})
}

func TestCacheControl(t *testing.T) {
	h := http.Header{}
	h.Add("Cache-Control", `Private, max-age="60"`)
	h.Add("Cache-Control", "must-revalidate")

	got := cacheControl(h)
	if _, ok := got["private"]; !ok {
		t.Error("private directive missing")
	}
	if got["max-age"] != "60" {
		t.Errorf("max-age = %q, want 60", got["max-age"])
	}
	if _, ok := got["must-revalidate"]; !ok {
		t.Error("second header line ignored")
	}
}
