package embedder

import (
	"strings"

	"github.com/dshills/hybridsearch/pkg/types"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default endpoints
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIURL = "https://api.openai.com/v1"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-embeddings"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	DefaultEncodingFormat = "float"
	DefaultCacheSize      = 1000
)

// Config holds embedder configuration. It is copied at construction.
type Config struct {
	Provider       string
	BaseURL        string
	Model          string
	APIKey         string
	Dimensions     int
	EncodingFormat string
	BatchSize      int
	CacheSize      int
}

// WithDefaults fills provider-specific defaults for unset fields
func (c Config) WithDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderJina
	}

	switch c.Provider {
	case ProviderJina:
		if c.BaseURL == "" {
			c.BaseURL = DefaultJinaURL
		}
		if c.Model == "" {
			c.Model = DefaultJinaModel
		}
		if c.Dimensions == 0 {
			c.Dimensions = JinaDimension
		}
	case ProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = DefaultOpenAIURL
		}
		if c.Model == "" {
			c.Model = DefaultOpenAIModel
		}
		if c.Dimensions == 0 {
			c.Dimensions = OpenAIDimension
		}
	case ProviderLocal:
		if c.Model == "" {
			c.Model = DefaultLocalModel
		}
		if c.Dimensions == 0 {
			c.Dimensions = LocalDimension
		}
	}

	if c.EncodingFormat == "" {
		c.EncodingFormat = DefaultEncodingFormat
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

// Validate reports the first invalid setting as a *types.ConfigurationError
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderJina, ProviderHTTP, ProviderOpenAI:
		if c.BaseURL == "" {
			return types.NewConfigurationError("embedding.base_url", "required for provider %q", c.Provider)
		}
		if c.APIKey == "" {
			return types.NewConfigurationError("embedding.api_key", "required for provider %q", c.Provider)
		}
		if c.Model == "" {
			return types.NewConfigurationError("embedding.model", "required for provider %q", c.Provider)
		}
	case ProviderLocal:
	default:
		return types.NewConfigurationError("embedding.provider", "unknown provider %q", c.Provider)
	}

	if c.Dimensions <= 0 {
		return types.NewConfigurationError("embedding.dimensions", "must be positive, got %d", c.Dimensions)
	}
	if c.BatchSize > MaxBatchSize {
		return types.NewConfigurationError("embedding.batch_size", "must be <= %d, got %d", MaxBatchSize, c.BatchSize)
	}
	if c.EncodingFormat != "float" && c.EncodingFormat != "base64" {
		return types.NewConfigurationError("embedding.encoding_format", "must be float or base64, got %q", c.EncodingFormat)
	}
	return nil
}

// Remote reports whether the provider makes network calls
func (c Config) Remote() bool {
	return c.Provider != ProviderLocal
}
