package httpclient

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/fluentrest-go/settings"
)

// Client holds what a group of requests has in common: a base URL, default
// headers, a settings node, and the transport chain
// (otel -> circuit breaker -> rate limit -> base).
//
// Create a Client with New, or let a Runtime create and cache one per host:
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithServiceName("payment-service"),
//	)
//
//	var payment Payment
//	_, err := client.Request("payments").
//	    BodyJSON(newPayment).
//	    Decode(&payment).
//	    Post(ctx)
//
// The base transport is created lazily from the TransportFactory setting and
// recreated when that setting changes (a test substituting a mock) or when
// the connection lease expires.
type Client struct {
	config   *internalConfig
	runtime  *Runtime
	settings *settings.Settings
	baseURL  string
	logger   zerolog.Logger

	// headers is copy-on-write; headersMu serializes writers.
	headers   atomic.Pointer[http.Header]
	headersMu sync.Mutex

	mu       sync.Mutex
	base     http.RoundTripper
	factory  *TransportFactory
	leasedAt time.Time

	httpClient *http.Client
	closed     atomic.Bool
}

// New creates a Client. Its settings inherit from the runtime passed with
// WithRuntime, or Default().
//
// Example - resilient client:
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithConfig(httpclient.LowLatencyConfig()),
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	    httpclient.WithCircuitBreaker(httpclient.DefaultBreakerConfig()),
//	)
func New(opts ...Option) *Client {
	cfg := newConfig(opts...)

	rt := cfg.Runtime
	if rt == nil {
		rt = Default()
	}

	c := &Client{
		config:   cfg,
		runtime:  rt,
		settings: rt.Settings().Child(),
		baseURL:  cfg.BaseURL,
		logger:   cfg.Logger,
	}

	defaults := cfg.DefaultHeaders.Clone()
	if defaults == nil {
		defaults = make(http.Header)
	}
	c.headers.Store(&defaults)

	if cfg.configSet {
		c.settings.SetTimeout(cfg.httpConfig.Timeout)
	}
	for _, fn := range cfg.settingsFns {
		fn(c.settings)
	}

	chain := newRateLimitTransport(baseTransport{c}, cfg)
	chain = newBreakerTransport(chain, cfg)
	chain = newOtelTransport(chain, cfg)

	c.httpClient = &http.Client{
		Transport: chain,
		// Redirects are decided by the call orchestrator.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c
}

// Settings returns the client's settings node. Changes apply to requests
// sent afterwards.
func (c *Client) Settings() *settings.Settings {
	return c.settings
}

// Headers returns a copy of the client-level headers. Use SetHeader,
// AddHeader, DelHeader or UpdateHeaders to change them.
func (c *Client) Headers() http.Header {
	return c.headerSnapshot().Clone()
}

// SetHeader replaces the client-level values of key.
func (c *Client) SetHeader(key, value string) {
	c.UpdateHeaders(func(h http.Header) { h.Set(key, value) })
}

// AddHeader appends a client-level value to key.
func (c *Client) AddHeader(key, value string) {
	c.UpdateHeaders(func(h http.Header) { h.Add(key, value) })
}

// DelHeader removes the client-level values of key.
func (c *Client) DelHeader(key string) {
	c.UpdateHeaders(func(h http.Header) { h.Del(key) })
}

// UpdateHeaders applies fn to a copy of the client-level headers and
// publishes the result. Requests in flight keep the headers they started with.
func (c *Client) UpdateHeaders(fn func(http.Header)) {
	c.headersMu.Lock()
	defer c.headersMu.Unlock()

	next := c.headerSnapshot().Clone()
	if next == nil {
		next = make(http.Header)
	}
	fn(next)
	c.headers.Store(&next)
}

// headerSnapshot returns the current headers. The map must not be mutated.
func (c *Client) headerSnapshot() http.Header {
	if h := c.headers.Load(); h != nil {
		return *h
	}
	return nil
}

// BaseURL returns the URL Request appends segments to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Runtime returns the runtime the client belongs to.
func (c *Client) Runtime() *Runtime {
	return c.runtime
}

// HTTP returns a plain *http.Client over the same transport chain. It does
// not follow redirects, run hooks or use cookie jars.
func (c *Client) HTTP() *http.Client {
	return c.httpClient
}

// Request starts a request to the base URL joined with segments.
//
// Example:
//
//	client.Request("users", userID, "orders").Query("status", "open").Get(ctx)
func (c *Client) Request(segments ...string) *Request {
	return newRequest(c.runtime, c).URL(combineURL(c.baseURL, segments...))
}

// Close releases idle connections. A closed client still works; caching
// runtimes replace it on next use.
func (c *Client) Close() {
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	closeIdle(c.base)
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// transport returns the base transport, (re)building it when the effective
// factory changed or the lease expired.
func (c *Client) transport() http.RoundTripper {
	f := settings.Get(c.settings, TransportFactoryKey)
	if f == nil {
		f = DefaultTransportFactory
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lease := c.config.ConnectionLeaseTimeout
	expired := lease > 0 && time.Since(c.leasedAt) >= lease
	if c.base != nil && c.factory == f && !expired {
		return c.base
	}

	old := c.base
	c.base = f.build(c)
	c.factory = f
	c.leasedAt = time.Now()

	if old != nil && old != c.base {
		closeIdle(old)
	}
	c.logger.Debug().
		Str("factory", f.Name()).
		Bool("lease_expired", expired).
		Msg("transport created")
	return c.base
}

// baseTransport defers to the client's current base transport, so the
// resilience layers above it outlive transport rebuilds.
type baseTransport struct {
	c *Client
}

func (t baseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.c.transport().RoundTrip(req)
}

func closeIdle(rt http.RoundTripper) {
	if ci, ok := rt.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// combineURL joins segments onto base with exactly one slash between parts.
// A segment starting with '?' or '#' is appended as is.
func combineURL(base string, segments ...string) string {
	out := base
	for _, seg := range segments {
		switch {
		case seg == "":
			continue
		case out == "":
			out = seg
		case strings.HasPrefix(seg, "?"), strings.HasPrefix(seg, "#"):
			out += seg
		default:
			out = strings.TrimRight(out, "/") + "/" + strings.TrimLeft(seg, "/")
		}
	}
	return out
}

// joinPath is combineURL for a URL that may already carry a query or
// fragment: segments go into the path, the suffix is kept.
func joinPath(rawURL string, segments ...string) string {
	cut := strings.IndexAny(rawURL, "?#")
	if cut < 0 {
		return combineURL(rawURL, segments...)
	}
	return combineURL(rawURL[:cut], segments...) + rawURL[cut:]
}
