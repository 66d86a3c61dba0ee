// Package httpclient provides the HTTP client used to fetch map tiles, with
// per-request timeouts, a shared connection pool, User-Agent injection and an
// observer hook for metrics.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/noahgolmant/label-tiles/internal/errors"
)

const (
	// DefaultTimeout is the per-request timeout applied when the caller sets none.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxBodyBytes caps a single tile response.
	DefaultMaxBodyBytes = 16 << 20

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 16
	defaultIdleConnTimeout     = 90 * time.Second

	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second
	defaultDialTimeout           = 30 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "label-tiles/1.0"
)

// Observer is called once per completed or failed request
type Observer func(req *http.Request, resp *http.Response, err error, elapsed time.Duration)

// Client fetches tiles over HTTP. Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	maxBodyBytes   int64

	hookMu   sync.RWMutex
	observer Observer
}

// Config holds configuration for creating a Client.
type Config struct {
	// DefaultTimeout bounds each request including reading the body
	DefaultTimeout time.Duration

	// UserAgent is added to all requests
	UserAgent string

	// MaxBodyBytes rejects larger responses (default: 16 MiB)
	MaxBodyBytes int64

	// MaxIdleConnsPerHost should be at least the worker count (default: 16)
	MaxIdleConnsPerHost int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:      DefaultTimeout,
		UserAgent:           defaultUserAgent,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	}
}

// New creates a Client. A nil cfg uses DefaultConfig; zero fields take defaults.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
		if cfg.MaxBodyBytes > 0 {
			c.MaxBodyBytes = cfg.MaxBodyBytes
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}

	return &Client{
		// No client-level timeout: deadlines come from the request context.
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
		maxBodyBytes:   c.MaxBodyBytes,
	}
}

// HTTPClient exposes the underlying client, e.g. for httpmock.ActivateNonDefault.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// SetObserver installs a hook called after every request.
func (c *Client) SetObserver(fn Observer) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.observer = fn
}

// StatusError is returned by Fetch for non-2xx responses
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Do executes req with ctx, injecting the User-Agent. The caller closes the body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	observer := c.observer
	c.hookMu.RUnlock()
	if observer != nil {
		observer(req, resp, err, time.Since(start))
	}
	return resp, err
}

// Fetch GETs url and returns the full body. The default timeout covers both
// the round trip and reading the body. Non-2xx responses yield a StatusError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to create GET request: %w", err)).
			Component("httpclient").
			Category(errors.CategoryValidation).
			Build()
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			eb := errors.New(err).
				Component("httpclient").
				Category(errors.CategoryTimeout)
			if deadline, ok := ctx.Deadline(); ok {
				eb = eb.Context("deadline", deadline.UTC().Format(time.RFC3339Nano))
			}
			return nil, eb.Build()
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errors.NetworkError(err, url, c.defaultTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, c.maxBodyBytes)
	}
	return body, nil
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
