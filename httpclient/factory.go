package httpclient

import (
	"net/url"
	"strings"
	"sync"
)

// ClientFactory decides which cached client serves a URL and how a missing
// one is created.
type ClientFactory interface {
	// CacheKey maps a URL to the key of the client that serves it.
	CacheKey(u *url.URL) string
	// NewClient creates the client for a key's first URL.
	NewClient(rt *Runtime, u *url.URL) *Client
}

// DefaultClientFactory shares one client per scheme, host and port.
type DefaultClientFactory struct {
	opts []Option
}

// NewDefaultClientFactory returns a factory whose clients are built with opts.
func NewDefaultClientFactory(opts ...Option) *DefaultClientFactory {
	return &DefaultClientFactory{opts: opts}
}

// CacheKey implements ClientFactory.
func (f *DefaultClientFactory) CacheKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "https", "wss":
			port = "443"
		case "http", "ws":
			port = "80"
		}
	}
	return scheme + "|" + strings.ToLower(u.Hostname()) + "|" + port
}

// NewClient implements ClientFactory.
func (f *DefaultClientFactory) NewClient(rt *Runtime, _ *url.URL) *Client {
	return New(append([]Option{WithRuntime(rt)}, f.opts...)...)
}

// PerBaseURLClientFactory shares one client per full URL, using that URL as
// the client's base URL.
type PerBaseURLClientFactory struct {
	opts []Option
}

// NewPerBaseURLClientFactory returns a factory whose clients are built with opts.
func NewPerBaseURLClientFactory(opts ...Option) *PerBaseURLClientFactory {
	return &PerBaseURLClientFactory{opts: opts}
}

// CacheKey implements ClientFactory.
func (f *PerBaseURLClientFactory) CacheKey(u *url.URL) string {
	return u.String()
}

// NewClient implements ClientFactory.
func (f *PerBaseURLClientFactory) NewClient(rt *Runtime, u *url.URL) *Client {
	opts := append([]Option{WithRuntime(rt), WithBaseURL(u.String())}, f.opts...)
	return New(opts...)
}

// registry is a keyed set of lazily created values.
type registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// getOrCreate returns the value for key, creating it when missing or when
// stale reports it unusable. stale may be nil.
func (r *registry[T]) getOrCreate(key string, create func() T, stale func(T) bool) T {
	r.mu.RLock()
	if v, ok := r.items[key]; ok && (stale == nil || !stale(v)) {
		r.mu.RUnlock()
		return v
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if v, ok := r.items[key]; ok && (stale == nil || !stale(v)) {
		return v
	}

	if r.items == nil {
		r.items = make(map[string]T)
	}
	v := create()
	r.items[key] = v
	return v
}

// len returns the number of entries.
func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// drain empties the registry and returns what it held.
func (r *registry[T]) drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, len(r.items))
	for _, v := range r.items {
		out = append(out, v)
	}
	r.items = nil
	return out
}
