package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix starts every cache key.
const KeyPrefix = "storefront:cache"

// PublicScope is the scope of pages cached without a principal.
const PublicScope = "public"

// Key identifies a cached listing page.
type Key struct {
	// Endpoint is the API path, e.g. "/api/v1/products/".
	Endpoint string

	// QueryParams are the listing filters, page number included.
	QueryParams url.Values

	// Principal scopes per-user pages (addresses, orders). Empty for catalog data.
	Principal string
}

// Scope returns PublicScope or the principal's scope.
func (k Key) Scope() string {
	return scopeOf(k.Principal)
}

func scopeOf(principal string) string {
	if principal == "" {
		return PublicScope
	}
	return "user-" + principal
}

// endpointKey is the part of the key shared by every page of one listing.
func (k Key) endpointKey() string {
	return KeyPrefix + ":" + k.Scope() + ":" + strings.Trim(k.Endpoint, "/")
}

// String returns the Redis key.
// Format: storefront:cache:<scope>:<endpoint>[:param=v1,v2...]
//
// Example:
//
//	storefront:cache:public:api/v1/products:category=vitamins:page=2
//	storefront:cache:user-3f2a9c0d11e4b7a8:api/v1/orders:page=1
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.endpointKey())

	names := make([]string, 0, len(k.QueryParams))
	for name := range k.QueryParams {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values := append([]string(nil), k.QueryParams[name]...)
		sort.Strings(values)
		b.WriteString(":")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}

// matchPattern returns a SCAN pattern for keys starting with prefix.
func matchPattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(prefix) + "*"
}
