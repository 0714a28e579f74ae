package netclient

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache defaults
const (
	DefaultCacheSize = 100
	DefaultCacheTTL  = time.Hour
)

// CacheEntry is one cached response body
type CacheEntry struct {
	Key       string
	Content   []byte
	CreatedAt time.Time
	TTL       time.Duration // TTL in force when the entry was created
}

// Expired reports whether the entry must no longer be served
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Cache is a capacity-bound TTL cache of response bodies.
//
// The underlying list is only read with Peek, so its order is creation order
// and the list tail is always the oldest entry. Eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *CacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now, used by tests to step past TTLs
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache creates a cache holding at most capacity entries for ttl each
func NewCache(capacity int, ttl time.Duration, opts ...CacheOption) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entries, err := lru.New[string, *CacheEntry](capacity)
	if err != nil {
		// Only fails for non-positive sizes, excluded above
		panic(err)
	}
	c := &Cache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached content. Expired entries are deleted and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Peek(key)
	if !ok {
		return nil, false
	}
	if entry.Expired(c.now()) {
		c.entries.Remove(key)
		return nil, false
	}

	content := make([]byte, len(entry.Content))
	copy(content, entry.Content)
	return content, true
}

// Set stores content under key. At capacity the oldest entry is evicted first.
func (c *Cache) Set(key string, content []byte) {
	stored := make([]byte, len(content))
	copy(stored, content)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-adding must move the key to the newest position with a fresh timestamp
	c.entries.Remove(key)
	c.entries.Add(key, &CacheEntry{
		Key:       key,
		Content:   stored,
		CreatedAt: c.now(),
		TTL:       c.ttl,
	})
}

// Len returns the number of stored entries, expired ones included until looked up
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Contains reports whether key is stored, without expiring it
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(key)
}

// Purge empties the cache
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// TTL returns the TTL applied to new entries
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Key derives a stable cache key from the parts of a request identity
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
