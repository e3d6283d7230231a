// Package pagination provides incremental page fetching for storefront list endpoints.
//
// A PagedFetcher owns the paging state of one list session (current page,
// accumulated items, loading and has-more flags) and exposes a single
// Advance operation that fetches the next page and appends its items.
//
// Example usage:
//
//	fetcher := pagination.New(api.ProductPages(query),
//		pagination.WithName("products"),
//	)
//	fetcher.Advance(ctx) // page 1
//	fetcher.Advance(ctx) // page 2, if the backend returned a next cursor
//	items := fetcher.Items()
//
// Contract:
//   - Advance is a no-op while a fetch is in flight or once HasMore is false
//   - Loading is set before the fetch function runs, so concurrent calls
//     issue exactly one request
//   - Pages are requested in order 1, 2, 3... and appended in that order
//   - A page with no next cursor ends the session, even when it is empty
//   - A failed fetch leaves Items, CurrentPage and HasMore untouched and is
//     recorded in Err; the next Advance requests the same page again
//   - Reset and Close start a new generation; results of fetches started
//     before them are discarded
//
// Advance never returns an error. Failures go to the logger and to the
// optional ErrorReporter, and stay visible through Err until the next
// successful page.
package pagination
