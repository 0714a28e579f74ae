package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dshills/hybridsearch/internal/netclient"
	"github.com/dshills/hybridsearch/pkg/types"
)

// DefaultEndpoint is the reader service that renders a URL in the requested format
const DefaultEndpoint = "https://r.jina.ai/"

// Formats accepted by Fetch
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatText     = "text"
)

// maxNameLen bounds the URL-derived part of a saved reference's file name
const maxNameLen = 80

// Common errors
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInvalidURL        = errors.New("invalid url")
	ErrNoReferencesDir   = errors.New("references directory is not configured")
)

// State is a step of a fetch
type State string

const (
	StateCheckingCache State = "checking_cache"
	StateFetching      State = "fetching"
	StateRetrying      State = "retrying"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
)

var extensions = map[string]string{
	FormatMarkdown: ".md",
	FormatHTML:     ".html",
	FormatText:     ".txt",
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Config contains fetcher settings
type Config struct {
	Endpoint      string
	Token         string // Sent as a bearer token when set
	ReferencesDir string // Absolute directory Save writes into
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithCache replaces the default response cache
func WithCache(cache *netclient.Cache) Option {
	return func(f *Fetcher) {
		if cache != nil {
			f.cache = cache
		}
	}
}

// Fetcher retrieves external pages through the reader endpoint.
// Responses are cached by (url, format) for the cache TTL.
type Fetcher struct {
	cfg    Config
	client *netclient.Client
	cache  *netclient.Cache
	logger *slog.Logger
}

type fetchRequest struct {
	URL string `json:"url"`
}

// New creates a Fetcher sending requests through client
func New(cfg Config, client *netclient.Client, opts ...Option) (*Fetcher, error) {
	if client == nil {
		return nil, types.NewConfigurationError("fetch", "network client is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, types.NewConfigurationError("fetch.endpoint", "%v", err)
	}

	f := &Fetcher{
		cfg:    cfg,
		client: client,
		cache:  netclient.NewCache(netclient.DefaultCacheSize, netclient.DefaultCacheTTL),
		logger: slog.Default().With("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the content of target rendered in format (markdown when empty).
// Network failures are returned as *types.NetworkError once the client's
// retry budget is spent; failures are never cached.
func (f *Fetcher) Fetch(ctx context.Context, target, format string) ([]byte, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if _, err := parseTarget(target); err != nil {
		return nil, err
	}

	start := time.Now()
	key := netclient.Key(target, format)

	f.transition(target, StateCheckingCache)
	if content, ok := f.cache.Get(key); ok {
		f.transition(target, StateSucceeded, "cache_hit", true)
		return content, nil
	}

	body, err := json.Marshal(fetchRequest{URL: target})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Return-Format", format)
	if ua := f.client.Config().UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if f.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
	}

	ctx = netclient.WithRetryObserver(ctx, func(attempt int, delay time.Duration, err error) {
		f.transition(target, StateRetrying, "attempt", attempt, "delay", delay, "elapsed", time.Since(start), "err", err)
		f.transition(target, StateFetching, "attempt", attempt+1)
	})

	f.transition(target, StateFetching, "attempt", 1)
	content, err := f.client.Send(ctx, req)
	if err != nil {
		f.transition(target, StateFailed, "elapsed", time.Since(start), "err", err)
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	f.cache.Set(key, content)
	f.transition(target, StateSucceeded, "bytes", len(content), "elapsed", time.Since(start))
	return content, nil
}

// Save fetches target and writes it into the references directory so the
// next index run picks it up. It returns the written path.
func (f *Fetcher) Save(ctx context.Context, target, format string) (string, error) {
	if f.cfg.ReferencesDir == "" {
		return "", ErrNoReferencesDir
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return "", err
	}
	u, err := parseTarget(target)
	if err != nil {
		return "", err
	}

	content, err := f.Fetch(ctx, target, format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(f.cfg.ReferencesDir, 0o755); err != nil {
		return "", fmt.Errorf("create references directory: %w", err)
	}
	path := filepath.Join(f.cfg.ReferencesDir, ReferenceName(u, format))

	tmp, err := os.CreateTemp(f.cfg.ReferencesDir, ".fetch-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write reference: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write reference: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write reference: %w", err)
	}

	f.logger.Info("saved reference", "url", target, "path", path, "bytes", len(content))
	return path, nil
}

// Cache returns the response cache
func (f *Fetcher) Cache() *netclient.Cache {
	return f.cache
}

// ReferenceName derives a stable file name from a URL: host and path with
// unsafe characters replaced, a short hash of the full URL, and the format's extension.
func ReferenceName(u *url.URL, format string) string {
	name := u.Hostname() + strings.TrimSuffix(u.EscapedPath(), "/")
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._-")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name + "-" + netclient.Key(u.String())[:8] + extensions[format]
}

func (f *Fetcher) transition(target string, state State, attrs ...any) {
	level := slog.LevelDebug
	switch state {
	case StateRetrying:
		level = slog.LevelWarn
	case StateFailed:
		level = slog.LevelError
	}
	f.logger.Log(context.Background(), level, "fetch state", append([]any{"url", target, "state", state}, attrs...)...)
}

func normalizeFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return FormatMarkdown, nil
	}
	if _, ok := extensions[format]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return format, nil
}

func parseTarget(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}
	return u, nil
}
