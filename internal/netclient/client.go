package netclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/hybridsearch/pkg/types"
)

// Client configuration defaults
const (
	DefaultPoolConnections = 10
	DefaultPoolMaxSize     = 10
	DefaultMaxRetries      = 3
	DefaultBackoffFactor   = 500 * time.Millisecond
	DefaultTimeout         = 30 * time.Second
	DefaultUserAgent       = "hybridsearch/1.0"

	// maxErrorBody bounds how much of a failed response body is kept in errors
	maxErrorBody = 512
)

// DefaultRetryStatuses are the HTTP statuses retried with backoff
var DefaultRetryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Config configures pooling, retry and throttling behavior
type Config struct {
	PoolConnections   int           // Number of per-host pools kept warm
	PoolMaxSize       int           // Connection cap per host
	MaxRetries        int           // Retries after the first attempt
	BackoffFactor     time.Duration // Delay before retry i is BackoffFactor * 2^i
	Timeout           time.Duration // Per attempt
	RetryStatuses     []int
	DisableProxy      bool
	ProxyURL          string  // Optional explicit proxy; environment proxy otherwise
	RequestsPerSecond float64 // Zero disables proactive throttling
	UserAgent         string
}

// DefaultConfig returns sensible defaults for outbound API calls
func DefaultConfig() Config {
	return Config{
		PoolConnections: DefaultPoolConnections,
		PoolMaxSize:     DefaultPoolMaxSize,
		MaxRetries:      DefaultMaxRetries,
		BackoffFactor:   DefaultBackoffFactor,
		Timeout:         DefaultTimeout,
		RetryStatuses:   append([]int(nil), DefaultRetryStatuses...),
		UserAgent:       DefaultUserAgent,
	}
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

// Client is the shared HTTP client used by every outbound component.
// It is safe for concurrent use.
type Client struct {
	cfg       Config
	retryable map[int]bool
	http      *http.Client
	direct    *http.Client // Proxy-less, used once after a proxy failure
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Client. Invalid settings yield a *types.ConfigurationError.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.MaxRetries < 0 {
		return nil, types.NewConfigurationError("network.max_retries", "must be >= 0, got %d", cfg.MaxRetries)
	}
	if cfg.BackoffFactor < 0 {
		return nil, types.NewConfigurationError("network.backoff_factor", "must be >= 0")
	}
	if cfg.PoolConnections <= 0 {
		cfg.PoolConnections = DefaultPoolConnections
	}
	if cfg.PoolMaxSize <= 0 {
		cfg.PoolMaxSize = DefaultPoolMaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = append([]int(nil), DefaultRetryStatuses...)
	}

	transport := newTransport(cfg)
	if !cfg.DisableProxy && cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, types.NewConfigurationError("network.proxy_url", "%v", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &Client{
		cfg:       cfg,
		retryable: make(map[int]bool, len(cfg.RetryStatuses)),
		http:      &http.Client{Transport: transport},
		direct:    &http.Client{Transport: newTransport(Config{PoolConnections: cfg.PoolConnections, PoolMaxSize: cfg.PoolMaxSize, DisableProxy: true})},
		logger:    slog.Default().With("component", "netclient"),
	}
	for _, status := range cfg.RetryStatuses {
		c.retryable[status] = true
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newTransport builds a pooled transport. Go keys idle pools by scheme and host.
func newTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = cfg.PoolConnections * cfg.PoolMaxSize
	t.MaxIdleConnsPerHost = cfg.PoolMaxSize
	t.MaxConnsPerHost = cfg.PoolMaxSize
	if cfg.DisableProxy {
		t.Proxy = nil
	}
	return t
}

// RetryObserver is called before the client sleeps ahead of a retry.
// attempt is the number of attempts made so far.
type RetryObserver func(attempt int, delay time.Duration, err error)

type retryObserverKey struct{}

// WithRetryObserver returns a context that reports the retries of calls made with it
func WithRetryObserver(ctx context.Context, observe RetryObserver) context.Context {
	return context.WithValue(ctx, retryObserverKey{}, observe)
}

func retryObserverFrom(ctx context.Context) RetryObserver {
	observe, _ := ctx.Value(retryObserverKey{}).(RetryObserver)
	return observe
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.cfg
}

// Send performs req with retries and returns the body of a 2xx response
func (c *Client) Send(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// Do performs req with retries. The returned response always has a 2xx status
// and a fully buffered body; any other outcome is a *types.NetworkError.
// Do satisfies the HTTPDoer contract of SDK clients.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	target := req.URL.String()

	body, err := snapshotBody(req)
	if err != nil {
		return nil, &types.NetworkError{Kind: types.NetworkProtocol, URL: target, Err: fmt.Errorf("read request body: %w", err)}
	}

	req = req.Clone(ctx)
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	var lastErr *types.NetworkError
	attempts := 0
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &types.NetworkError{Kind: types.NetworkConnection, URL: target, Attempts: attempts, Err: err}
			}
		}

		attempts++
		resp, nerr := c.attempt(ctx, c.http, req, body, attempts)
		if nerr == nil {
			return resp, nil
		}
		lastErr = nerr

		if !c.cfg.DisableProxy && isProxyFailure(nerr.Err) {
			attempts++
			c.logger.Warn("proxy failure, retrying once without proxy", "url", target, "err", nerr.Err)
			resp, derr := c.attempt(ctx, c.direct, req, body, attempts)
			if derr == nil {
				return resp, nil
			}
			derr.Attempts = attempts
			return nil, derr
		}

		if ctx.Err() != nil || !c.shouldRetry(nerr) || attempt == c.cfg.MaxRetries {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Debug("retrying request", "url", target, "attempt", attempts, "delay", delay)
		if observe := retryObserverFrom(ctx); observe != nil {
			observe(attempts, delay, nerr)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr.Attempts = attempts
			lastErr.Err = errors.Join(lastErr.Err, ctx.Err())
			return nil, lastErr
		case <-timer.C:
		}
	}

	lastErr.Attempts = attempts
	return nil, lastErr
}

// attempt issues one call under the per-attempt timeout
func (c *Client) attempt(ctx context.Context, hc *http.Client, req *http.Request, body []byte, n int) (*http.Response, *types.NetworkError) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	r := req.Clone(actx)
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	target := req.URL.String()
	start := time.Now()
	resp, err := hc.Do(r)
	if err != nil {
		kind := classify(err)
		c.logger.Warn("request attempt failed", "url", target, "attempt", n, "kind", kind, "elapsed", time.Since(start), "err", err)
		return nil, &types.NetworkError{Kind: kind, URL: target, Attempts: n, Err: err}
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	elapsed := time.Since(start)
	if err != nil {
		kind := classify(err)
		c.logger.Warn("reading response failed", "url", target, "attempt", n, "kind", kind, "elapsed", elapsed, "err", err)
		return nil, &types.NetworkError{Kind: kind, URL: target, StatusCode: resp.StatusCode, Attempts: n, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("request attempt rejected", "url", target, "attempt", n, "status", resp.StatusCode, "elapsed", elapsed)
		return nil, &types.NetworkError{
			Kind:       types.NetworkProtocol,
			URL:        target,
			StatusCode: resp.StatusCode,
			Attempts:   n,
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data, maxErrorBody)),
		}
	}

	c.logger.Debug("request attempt succeeded", "url", target, "attempt", n, "status", resp.StatusCode, "elapsed", elapsed)
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}

// shouldRetry applies the retry policy to a failed attempt
func (c *Client) shouldRetry(err *types.NetworkError) bool {
	if err.StatusCode != 0 {
		return c.retryable[err.StatusCode]
	}
	return err.Kind == types.NetworkTimeout || err.Kind == types.NetworkConnection
}

// backoff returns BackoffFactor * 2^attempt
func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(float64(c.cfg.BackoffFactor) * math.Pow(2, float64(attempt)))
}

// CloseIdleConnections releases pooled connections
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
	c.direct.CloseIdleConnections()
}

// snapshotBody buffers the request body so every attempt can replay it
func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}
	defer func() { _ = req.Body.Close() }()
	return io.ReadAll(req.Body)
}

// classify maps a transport error onto the NetworkError kinds
func classify(err error) types.NetworkErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NetworkTimeout
	}
	return types.NetworkConnection
}

// isProxyFailure reports whether the transport failed while talking to the proxy
func isProxyFailure(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "proxyconnect"
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
