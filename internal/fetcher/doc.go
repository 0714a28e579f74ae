// Package fetcher retrieves external reference pages through a reader
// service and caches them.
//
// A fetch moves through these states, each logged:
//
//	checking_cache -> succeeded              (cache hit)
//	checking_cache -> fetching -> succeeded
//	fetching -> retrying -> fetching ...     (until the client's budget is spent)
//	fetching -> failed
//
// Retries, backoff and connection pooling belong to the shared
// netclient.Client; the fetcher only observes them. Successful responses are
// cached under sha256(url, format) until the cache TTL elapses.
//
// Save writes a page into the workspace references directory, so the next
// index run makes it searchable.
package fetcher
