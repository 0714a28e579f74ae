package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/hybridsearch/internal/netclient"
	"github.com/dshills/hybridsearch/pkg/types"
)

// Common errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrEmptyText           = errors.New("text cannot be empty")
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
)

// Embedder turns texts into fixed-dimension vectors
type Embedder interface {
	// GetEmbeddings returns one vector per text, in input order
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Embed returns the vector of a single text, served from cache when possible
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the configured vector length
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// backend performs one provider call for at most BatchSize texts
type backend interface {
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
	close()
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the shared network client used by remote providers.
func WithHTTPClient(hc *netclient.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client implements Embedder over one provider backend.
// Batching, validation and the query cache live here; retries belong to the network client.
type Client struct {
	cfg     Config
	backend backend
	http    *netclient.Client
	cache   *Cache
	logger  *slog.Logger
}

// New creates an embedding client. Invalid configuration yields a *types.ConfigurationError.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		cache:  NewCache(cfg.CacheSize),
		logger: slog.Default().With("component", "embedder"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.Provider != ProviderLocal && c.http == nil {
		hc, err := netclient.New(netclient.DefaultConfig(), netclient.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		c.http = hc
	}

	switch cfg.Provider {
	case ProviderJina, ProviderHTTP:
		c.backend = newHTTPBackend(cfg, c.http)
	case ProviderOpenAI:
		c.backend = newOpenAIBackend(cfg, c.http)
	case ProviderLocal:
		c.backend = newLocalBackend(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	return c, nil
}

// GetEmbeddings embeds texts in batches of BatchSize.
// A count, length or finiteness mismatch yields a *types.EmbeddingError.
func (c *Client) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		batch := texts[start:end]

		vectors, err := c.backend.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		if err := validateVectors(vectors, len(batch), c.cfg.Dimensions); err != nil {
			return nil, err
		}
		out = append(out, vectors...)

		c.logger.Debug("embedded batch", "provider", c.cfg.Provider, "size", len(batch), "offset", start)
	}

	return out, nil
}

// Embed embeds a single text through the LRU cache
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if vec, ok := c.cache.Get(hash); ok {
		return vec, nil
	}

	vectors, err := c.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	c.cache.Set(hash, vectors[0])
	return vectors[0], nil
}

func (c *Client) Dimension() int {
	return c.cfg.Dimensions
}

func (c *Client) Provider() string {
	return c.cfg.Provider
}

func (c *Client) Model() string {
	return c.cfg.Model
}

// Config returns the configuration the client was built with
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Close() error {
	c.backend.close()
	c.cache.Clear()
	return nil
}

// validateVectors checks a provider batch against the request
func validateVectors(vectors [][]float32, want, dim int) error {
	if len(vectors) != want {
		return &types.EmbeddingError{Reason: fmt.Sprintf("provider returned %d vectors for %d texts", len(vectors), want)}
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return &types.EmbeddingError{Reason: fmt.Sprintf("vector %d is empty", i)}
		}
		if dim > 0 && len(vec) != dim {
			return &types.EmbeddingError{Reason: fmt.Sprintf("vector %d has length %d, want %d", i, len(vec), dim)}
		}
		for _, v := range vec {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return &types.EmbeddingError{Reason: fmt.Sprintf("vector %d contains non-finite values", i)}
			}
		}
	}
	return nil
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		cache, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a copy of an embedding from cache
// Returns a copy to prevent caller mutations from affecting cached values
func (c *Cache) Get(hash string) ([]float32, bool) {
	vec, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a copy of an embedding with automatic LRU eviction
func (c *Cache) Set(hash string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(hash, stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
