// Package netclient is the resilient HTTP layer shared by the embedding
// client and the content fetcher.
//
// # Basic Usage
//
//	client, err := netclient.New(netclient.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err) // *types.ConfigurationError
//	}
//
//	req, _ := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
//	content, err := client.Send(ctx, req)
//
// Client.Do has the same semantics and satisfies the HTTPDoer contract used by
// SDK clients, so they inherit pooling and retries.
//
// # Retry Policy
//
// Attempt i (0-based) runs under Config.Timeout. A retryable status
// (429, 500, 502, 503, 504 by default), a timeout or a connection failure is
// retried after BackoffFactor * 2^i, up to MaxRetries times:
//
//	503, 503, 200 with MaxRetries = 2  ->  success after 3 attempts
//	503, 503      with MaxRetries = 1  ->  *types.NetworkError after 2 attempts
//
// Other statuses and caller cancellation fail immediately. When the transport
// fails while connecting to a proxy, one extra attempt is made without it.
//
// # Connection Pooling
//
// All calls share one http.Transport; Go keeps an idle pool per scheme and
// host. PoolMaxSize caps connections per host and PoolConnections times
// PoolMaxSize bounds the idle connections overall.
//
// # Caching
//
// Cache stores response bodies for a TTL with a fixed capacity. At capacity
// the entry with the oldest creation time is evicted; expired entries are
// deleted when looked up:
//
//	cache := netclient.NewCache(100, time.Hour)
//	key := netclient.Key(url, format)
//	if body, ok := cache.Get(key); ok {
//	    return body, nil
//	}
//
// All cache mutation happens under a single mutex and never spans network I/O.
package netclient
