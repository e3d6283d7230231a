// Package cache keeps storefront listing pages in Redis and revalidates them.
//
// Catalog pages (products, branches) change slowly and are requested again
// on every scroll session. A Manager stores each page body under a Key that
// carries the endpoint, the query (page number included) and the scope:
// "public" for catalog data, or the session principal for per-user lists
// such as addresses and orders.
//
// A Policy decides what is stored and for how long:
//
//   - only 200 responses, never Cache-Control: no-store or no-cache
//   - a response marked private is only stored under a principal
//   - lifetime from max-age, then Expires, then DefaultTTL
//   - per-user pages are capped at PrivateTTL
//   - an empty last page is capped at EmptyPageTTL so restocked items show up
//
// Entries keep their validators (ETag, Last-Modified) so the client can send
// a conditional request and serve the stored body on 304 Not Modified.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, cache.DefaultPolicy())
//
//	key := cache.Key{
//		Endpoint:    "/api/v1/products/",
//		QueryParams: url.Values{"category": {"vitamins"}, "page": {"2"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the backend, then manager.Store(ctx, key, resp)
//	}
//
// # Invalidation
//
// ForgetPrincipal drops every page cached for a session (on logout).
// ForgetEndpoint drops one per-user listing, e.g. the order history after
// an order is placed.
//
// # Metrics
//
//   - storefront_cache_hits_total{scope}
//   - storefront_cache_misses_total{scope}
//   - storefront_cache_stored_bytes_total{scope}
//   - storefront_cache_skipped_total{reason}
//   - storefront_cache_invalidated_total{reason}
//   - storefront_304_responses_total
//   - storefront_conditional_requests_total
//   - storefront_cache_errors_total{operation}
package cache
