package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/kroma-labs/fluentrest-go/settings"
)

// CompletionMode decides when a call is considered complete.
type CompletionMode int

const (
	// Buffered reads the whole response body before the call returns.
	Buffered CompletionMode = iota
	// Streamed returns once headers arrive. The call's timeout context is
	// released when the caller closes the body.
	Streamed
)

// Settings keys contributed by this package. They resolve through the same
// cascade as the built-in keys in package settings.
var (
	JSONSerializerKey   = settings.NewKey[Serializer]("JsonSerializer")
	FormSerializerKey   = settings.NewKey[Serializer]("UrlEncodedSerializer")
	TransportFactoryKey = settings.NewKey[*TransportFactory]("TransportFactory")
	CompletionModeKey   = settings.NewKey[CompletionMode]("CompletionMode")
)

// TransportFactory creates the base transport of a client.
//
// It is a pointer type so clients notice when the effective factory changes
// (for instance when a test layer substitutes a mock) and rebuild their chain.
type TransportFactory struct {
	name  string
	build func(c *Client) http.RoundTripper
}

// NewTransportFactory wraps build in a factory. name shows up in debug logs.
func NewTransportFactory(name string, build func(c *Client) http.RoundTripper) *TransportFactory {
	return &TransportFactory{name: name, build: build}
}

// Name returns the factory name.
func (f *TransportFactory) Name() string {
	return f.name
}

// DefaultTransportFactory builds an http.Transport from the client's Config,
// or returns the transport passed to WithTransport.
var DefaultTransportFactory = NewTransportFactory("default", func(c *Client) http.RoundTripper {
	if c.config.Transport != nil {
		return c.config.Transport
	}
	return c.config.buildTransport()
})

// seedDefaults registers this package's defaults on a global node.
func seedDefaults(s *settings.Settings) {
	settings.Set[Serializer](s, JSONSerializerKey, JSONSerializer{})
	settings.Set[Serializer](s, FormSerializerKey, FormSerializer{})
	settings.Set(s, TransportFactoryKey, DefaultTransportFactory)
	settings.Set(s, CompletionModeKey, Buffered)
}

// Runtime is the root every client hangs off: global settings, the client
// cache, the per-client configuration locks and the active HTTPTest.
//
// Most programs use Default(). Tests that want isolation create their own.
type Runtime struct {
	global *settings.Global

	// configMu serializes Configure.
	configMu sync.Mutex

	factoryMu sync.RWMutex
	factory   ClientFactory

	clients registry[*Client]
	locks   registry[*sync.Mutex]

	test atomic.Pointer[HTTPTest]
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithClientFactory replaces NewDefaultClientFactory().
func WithClientFactory(f ClientFactory) RuntimeOption {
	return func(rt *Runtime) {
		rt.factory = f
	}
}

// NewRuntime creates an isolated runtime with fresh global settings.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		global:  settings.NewGlobal(seedDefaults),
		factory: NewDefaultClientFactory(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

var defaultRuntime = sync.OnceValue(func() *Runtime {
	return NewRuntime()
})

// Default returns the process-wide runtime.
func Default() *Runtime {
	return defaultRuntime()
}

// Settings returns the global settings node.
func (rt *Runtime) Settings() *settings.Settings {
	return rt.global.Settings()
}

// Global returns the settings root, which owns the test layer.
func (rt *Runtime) Global() *settings.Global {
	return rt.global
}

// Configure runs fn against the global settings. Concurrent Configure calls
// are serialized.
//
// Example:
//
//	httpclient.Default().Configure(func(s *settings.Settings) {
//	    s.SetTimeout(30 * time.Second)
//	    s.Redirects().SetMaxAutoRedirects(5)
//	})
func (rt *Runtime) Configure(fn func(s *settings.Settings)) {
	rt.configMu.Lock()
	defer rt.configMu.Unlock()
	fn(rt.global.Settings())
}

// ResetDefaults discards every global override.
func (rt *Runtime) ResetDefaults() {
	rt.configMu.Lock()
	defer rt.configMu.Unlock()
	rt.global.ResetDefaults()
}

// ClientFactory returns the active factory.
func (rt *Runtime) ClientFactory() ClientFactory {
	rt.factoryMu.RLock()
	defer rt.factoryMu.RUnlock()
	return rt.factory
}

// SetClientFactory swaps the factory and drops every cached client.
func (rt *Runtime) SetClientFactory(f ClientFactory) {
	rt.factoryMu.Lock()
	rt.factory = f
	rt.factoryMu.Unlock()

	for _, c := range rt.clients.drain() {
		c.Close()
	}
}

// Client returns the cached client for rawURL, creating it on first use.
// A closed client is replaced by a fresh one.
func (rt *Runtime) Client(rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse url %q: %w", rawURL, err)
	}
	return rt.clientFor(u), nil
}

func (rt *Runtime) clientFor(u *url.URL) *Client {
	f := rt.ClientFactory()
	return rt.clients.getOrCreate(
		f.CacheKey(u),
		func() *Client { return f.NewClient(rt, u) },
		(*Client).IsClosed,
	)
}

// ConfigureClient runs fn against the cached client for rawURL while holding
// that client's configuration lock. Calls for different clients never block
// each other.
//
// Example:
//
//	err := rt.ConfigureClient("https://api.example.com", func(c *httpclient.Client) {
//	    c.SetHeader("Authorization", "Bearer "+token)
//	})
func (rt *Runtime) ConfigureClient(rawURL string, fn func(c *Client)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("httpclient: parse url %q: %w", rawURL, err)
	}

	key := rt.ClientFactory().CacheKey(u)
	mu := rt.locks.getOrCreate(key, func() *sync.Mutex { return new(sync.Mutex) }, nil)

	mu.Lock()
	defer mu.Unlock()
	fn(rt.clientFor(u))
	return nil
}

// Request starts a request to rawURL. The client is resolved from the
// factory when the request is sent.
//
// Example:
//
//	resp, err := httpclient.Default().
//	    Request("https://api.example.com/users").
//	    Query("page", "2").
//	    Get(ctx)
func (rt *Runtime) Request(rawURL string) *Request {
	return newRequest(rt, nil).URL(rawURL)
}

// CookieSession starts a session whose requests share one cookie jar and the
// cached client for baseURL.
func (rt *Runtime) CookieSession(baseURL string) (*CookieSession, error) {
	c, err := rt.Client(baseURL)
	if err != nil {
		return nil, err
	}
	return newCookieSession(c, baseURL), nil
}

// ActiveTest returns the HTTPTest in progress, or nil.
func (rt *Runtime) ActiveTest() *HTTPTest {
	return rt.test.Load()
}
