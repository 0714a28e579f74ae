package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/hybridsearch/internal/embedder"
	"github.com/dshills/hybridsearch/internal/fetcher"
	"github.com/dshills/hybridsearch/internal/indexer"
	"github.com/dshills/hybridsearch/internal/netclient"
	"github.com/dshills/hybridsearch/internal/searcher"
	"github.com/dshills/hybridsearch/pkg/types"
)

// Environment variables read by Load
const (
	EnvEmbeddingAPIKey = "HYBRIDSEARCH_EMBEDDING_API_KEY"
	EnvFetchToken      = "HYBRIDSEARCH_FETCH_TOKEN"
	EnvNoProxy         = "HYBRIDSEARCH_NO_PROXY"
	EnvDBPath          = "HYBRIDSEARCH_DB_PATH"
	EnvJinaAPIKey      = "JINA_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
)

// Defaults not owned by a component package
const (
	DefaultFileName     = "hybridsearch.toml"
	DefaultDBPath       = "~/.hybridsearch/index.db"
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultWatchDelay   = 2 * time.Second
)

// Duration is a time.Duration written as a string such as "500ms" or "1h"
type Duration time.Duration

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete configuration surface
type Config struct {
	WorkspaceRoot string `toml:"workspace_root"`
	ReferencesDir string `toml:"references_dir"`
	DBPath        string `toml:"db_path"`

	Embedding EmbeddingConfig `toml:"embedding"`
	Weights   WeightsConfig   `toml:"weights"`
	Network   NetworkConfig   `toml:"network"`
	Fetch     FetchConfig     `toml:"fetch"`
	Index     IndexConfig     `toml:"index"`
}

// EmbeddingConfig selects and configures the embedding provider
type EmbeddingConfig struct {
	Provider       string `toml:"provider"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	Dimensions     int    `toml:"dimensions"`
	EncodingFormat string `toml:"encoding_format"`
	BatchSize      int    `toml:"batch_size"`
}

// WeightsConfig holds the fusion weights
type WeightsConfig struct {
	Vector  float64 `toml:"vector"`
	Keyword float64 `toml:"keyword"`
}

// NetworkConfig configures the shared network client and its cache
type NetworkConfig struct {
	PoolConnections   int      `toml:"pool_connections"`
	PoolMaxSize       int      `toml:"pool_maxsize"`
	MaxRetries        int      `toml:"max_retries"`
	BackoffFactor     Duration `toml:"backoff_factor"`
	Timeout           Duration `toml:"timeout"`
	CacheTTL          Duration `toml:"cache_ttl"`
	CacheSize         int      `toml:"cache_size"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	ProxyURL          string   `toml:"proxy_url"`
	DisableProxy      bool     `toml:"disable_proxy"`
}

// FetchConfig configures the content fetcher
type FetchConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Token    string `toml:"token"`
}

// IndexConfig configures document discovery, chunking and watching
type IndexConfig struct {
	ChunkSize    int      `toml:"chunk_size"`
	ChunkOverlap int      `toml:"chunk_overlap"`
	MaxFileSize  int64    `toml:"max_file_size"`
	Workers      int      `toml:"workers"`
	Watch        bool     `toml:"watch"`
	WatchDelay   Duration `toml:"watch_delay"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		WorkspaceRoot: ".",
		ReferencesDir: searcher.DefaultReferencesDir,
		DBPath:        DefaultDBPath,
		// Endpoint, model and dimensions default per provider in resolveEmbedding
		Embedding: EmbeddingConfig{
			Provider:       embedder.ProviderJina,
			EncodingFormat: embedder.DefaultEncodingFormat,
			BatchSize:      embedder.DefaultBatchSize,
		},
		Weights: WeightsConfig{
			Vector:  searcher.DefaultVectorWeight,
			Keyword: searcher.DefaultKeywordWeight,
		},
		Network: NetworkConfig{
			PoolConnections: netclient.DefaultPoolConnections,
			PoolMaxSize:     netclient.DefaultPoolMaxSize,
			MaxRetries:      netclient.DefaultMaxRetries,
			BackoffFactor:   Duration(netclient.DefaultBackoffFactor),
			Timeout:         Duration(netclient.DefaultTimeout),
			CacheTTL:        Duration(netclient.DefaultCacheTTL),
			CacheSize:       netclient.DefaultCacheSize,
		},
		Fetch: FetchConfig{
			Enabled:  true,
			Endpoint: fetcher.DefaultEndpoint,
		},
		Index: IndexConfig{
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
			MaxFileSize:  indexer.DefaultMaxFileSize,
			WatchDelay:   Duration(DefaultWatchDelay),
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error; an empty path
// skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, types.NewConfigurationError("config", "invalid TOML in %s: %v", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.resolveEmbedding()

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays credentials and switches from the environment
func (c *Config) applyEnv() {
	if key := os.Getenv(EnvEmbeddingAPIKey); key != "" {
		c.Embedding.APIKey = key
	} else if c.Embedding.APIKey == "" {
		switch strings.ToLower(c.Embedding.Provider) {
		case embedder.ProviderJina, embedder.ProviderHTTP:
			c.Embedding.APIKey = os.Getenv(EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedding.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
	}

	if token := os.Getenv(EnvFetchToken); token != "" {
		c.Fetch.Token = token
	} else if c.Fetch.Token == "" {
		c.Fetch.Token = os.Getenv(EnvJinaAPIKey)
	}

	if v := os.Getenv(EnvNoProxy); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		c.Network.DisableProxy = true
	}

	if dbPath := os.Getenv(EnvDBPath); dbPath != "" {
		c.DBPath = dbPath
	}
}

// resolveEmbedding fills provider-specific defaults for unset embedding fields
func (c *Config) resolveEmbedding() {
	e := c.EmbedderConfig().WithDefaults()
	c.Embedding.Provider = e.Provider
	c.Embedding.BaseURL = e.BaseURL
	c.Embedding.Model = e.Model
	c.Embedding.Dimensions = e.Dimensions
	c.Embedding.EncodingFormat = e.EncodingFormat
	c.Embedding.BatchSize = e.BatchSize
}

// resolvePaths expands "~" and makes the workspace root absolute
func (c *Config) resolvePaths() error {
	dbPath, err := expandHome(c.DBPath)
	if err != nil {
		return types.NewConfigurationError("db_path", "%v", err)
	}
	c.DBPath = dbPath

	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	root, err := expandHome(c.WorkspaceRoot)
	if err != nil {
		return types.NewConfigurationError("workspace_root", "%v", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return types.NewConfigurationError("workspace_root", "%v", err)
	}
	c.WorkspaceRoot = root
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate reports the first invalid setting as a *types.ConfigurationError
func (c *Config) Validate() error {
	if err := c.EmbedderConfig().Validate(); err != nil {
		return err
	}

	if err := c.SearcherConfig().Validate(); err != nil {
		return err
	}

	if c.Index.ChunkSize <= 0 {
		return types.NewConfigurationError("index.chunk_size", "must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return types.NewConfigurationError("index.chunk_overlap", "must be in [0, chunk_size), got %d", c.Index.ChunkOverlap)
	}
	if c.Index.MaxFileSize <= 0 {
		return types.NewConfigurationError("index.max_file_size", "must be positive, got %d", c.Index.MaxFileSize)
	}
	if c.Index.Workers < 0 {
		return types.NewConfigurationError("index.workers", "must not be negative, got %d", c.Index.Workers)
	}

	if c.Network.MaxRetries < 0 {
		return types.NewConfigurationError("network.max_retries", "must not be negative, got %d", c.Network.MaxRetries)
	}
	if c.Network.Timeout <= 0 {
		return types.NewConfigurationError("network.timeout", "must be positive")
	}
	if c.Network.RequestsPerSecond < 0 || math.IsNaN(c.Network.RequestsPerSecond) {
		return types.NewConfigurationError("network.requests_per_second", "must not be negative")
	}

	if c.Fetch.Enabled && c.Fetch.Endpoint == "" {
		return types.NewConfigurationError("fetch.endpoint", "required when fetch is enabled")
	}

	if c.DBPath == "" {
		return types.NewConfigurationError("db_path", "required")
	}
	return nil
}

// NetClientConfig converts to the network client configuration
func (c *Config) NetClientConfig() netclient.Config {
	cfg := netclient.DefaultConfig()
	cfg.PoolConnections = c.Network.PoolConnections
	cfg.PoolMaxSize = c.Network.PoolMaxSize
	cfg.MaxRetries = c.Network.MaxRetries
	cfg.BackoffFactor = time.Duration(c.Network.BackoffFactor)
	cfg.Timeout = time.Duration(c.Network.Timeout)
	cfg.RequestsPerSecond = c.Network.RequestsPerSecond
	cfg.ProxyURL = c.Network.ProxyURL
	cfg.DisableProxy = c.Network.DisableProxy
	return cfg
}

// EmbedderConfig converts to the embedder configuration
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:       c.Embedding.Provider,
		BaseURL:        c.Embedding.BaseURL,
		Model:          c.Embedding.Model,
		APIKey:         c.Embedding.APIKey,
		Dimensions:     c.Embedding.Dimensions,
		EncodingFormat: c.Embedding.EncodingFormat,
		BatchSize:      c.Embedding.BatchSize,
	}
}

// IndexerConfig converts to the indexer configuration
func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		Workers:        c.Index.Workers,
		EmbedBatchSize: c.Embedding.BatchSize,
		ChunkSize:      c.Index.ChunkSize,
		ChunkOverlap:   c.Index.ChunkOverlap,
		MaxFileSize:    c.Index.MaxFileSize,
	}
}

// SearcherConfig converts to the engine configuration
func (c *Config) SearcherConfig() searcher.Config {
	cfg := searcher.DefaultConfig()
	cfg.VectorWeight = c.Weights.Vector
	cfg.KeywordWeight = c.Weights.Keyword
	cfg.ReferencesDir = c.ReferencesDir
	cfg.FetchEnabled = c.Fetch.Enabled
	return cfg
}

// FetcherConfig converts to the fetcher configuration. References are
// written under the workspace so the next index run picks them up.
func (c *Config) FetcherConfig() fetcher.Config {
	refs := c.ReferencesDir
	if refs != "" && !filepath.IsAbs(refs) {
		refs = filepath.Join(c.WorkspaceRoot, refs)
	}
	return fetcher.Config{
		Endpoint:      c.Fetch.Endpoint,
		Token:         c.Fetch.Token,
		ReferencesDir: refs,
	}
}
