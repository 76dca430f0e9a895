package settings

import (
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// ErrGlobalDefaults is returned when trying to rebind the parent of a global node.
var ErrGlobalDefaults = errors.New("settings: global settings cannot be backed by defaults")

// Key identifies a setting and the type of its value.
type Key[T any] struct {
	name string
}

// NewKey creates a typed key. Keys with the same name address the same slot,
// so a name must always be used with the same type.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key name.
func (k Key[T]) Name() string {
	return k.name
}

// Built-in keys.
var (
	TimeoutKey                = NewKey[time.Duration]("Timeout")
	AllowedHTTPStatusRangeKey = NewKey[string]("AllowedHttpStatusRange")

	RedirectsEnabledKey                    = NewKey[bool]("Redirects_Enabled")
	RedirectsAllowSecureToInsecureKey      = NewKey[bool]("Redirects_AllowSecureToInsecure")
	RedirectsForwardHeadersKey             = NewKey[bool]("Redirects_ForwardHeaders")
	RedirectsForwardAuthorizationHeaderKey = NewKey[bool]("Redirects_ForwardAuthorizationHeader")
	RedirectsMaxAutoRedirectsKey           = NewKey[int]("Redirects_MaxAutoRedirects")
)

// DefaultTimeout is the built-in request timeout.
const DefaultTimeout = 100 * time.Second

// DefaultMaxAutoRedirects is the built-in redirect limit.
const DefaultMaxAutoRedirects = 10

// Settings is one node of the cascade.
//
// Reads never block: the local map is replaced wholesale on every write and
// published through an atomic pointer. Writers are serialized per node.
type Settings struct {
	mu       sync.Mutex
	values   atomic.Pointer[map[string]any]
	defaults atomic.Pointer[Settings]
	global   *Global
}

// Get resolves key on s.
// Returns the zero value of T when no layer has it.
func Get[T any](s *Settings, key Key[T]) T {
	v, _ := Lookup(s, key)
	return v
}

// Lookup resolves key on s and reports whether any layer had it.
func Lookup[T any](s *Settings, key Key[T]) (T, bool) {
	var zero T
	raw, ok := s.lookup(key.name)
	if !ok || raw == nil {
		return zero, ok
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value on s only.
func Set[T any](s *Settings, key Key[T], value T) {
	s.store(key.name, value)
}

// IsSet reports whether s itself holds a value for name.
func (s *Settings) IsSet(name string) bool {
	_, ok := s.local(name)
	return ok
}

// Unset removes the local override for name.
func (s *Settings) Unset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.values.Load()
	if cur == nil {
		return
	}
	if _, ok := (*cur)[name]; !ok {
		return
	}
	next := maps.Clone(*cur)
	delete(next, name)
	s.values.Store(&next)
}

// ResetDefaults clears every local override. On the global node the built-in
// defaults are seeded again afterwards.
func (s *Settings) ResetDefaults() {
	next := map[string]any{}
	if s.isGlobal() {
		next = s.global.seeded()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Store(&next)
}

// Defaults returns the parent node, or nil for the global node.
func (s *Settings) Defaults() *Settings {
	return s.defaults.Load()
}

// SetDefaults rebinds the parent of s. A nil parent rebinds to the global node.
func (s *Settings) SetDefaults(parent *Settings) error {
	if s.isGlobal() {
		return ErrGlobalDefaults
	}
	if parent == nil && s.global != nil {
		parent = s.global.root
	}
	s.defaults.Store(parent)
	return nil
}

// Child creates an empty node whose parent is s.
func (s *Settings) Child() *Settings {
	n := &Settings{global: s.global}
	n.defaults.Store(s)
	return n
}

// Global returns the root this node belongs to.
func (s *Settings) Global() *Global {
	return s.global
}

// Timeout returns the effective request timeout. Zero means no timeout.
func (s *Settings) Timeout() time.Duration {
	return Get(s, TimeoutKey)
}

// SetTimeout overrides the timeout on this node.
func (s *Settings) SetTimeout(d time.Duration) {
	Set(s, TimeoutKey, d)
}

// AllowedHTTPStatusRange returns the pattern of non-2xx statuses that are not
// treated as failures, e.g. "400-404,6xx".
func (s *Settings) AllowedHTTPStatusRange() string {
	return Get(s, AllowedHTTPStatusRangeKey)
}

// SetAllowedHTTPStatusRange overrides the allowed status pattern on this node.
func (s *Settings) SetAllowedHTTPStatusRange(pattern string) {
	Set(s, AllowedHTTPStatusRangeKey, pattern)
}

func (s *Settings) isGlobal() bool {
	return s.global != nil && s.global.root == s
}

func (s *Settings) local(name string) (any, bool) {
	m := s.values.Load()
	if m == nil {
		return nil, false
	}
	v, ok := (*m)[name]
	return v, ok
}

func (s *Settings) lookup(name string) (any, bool) {
	if s.global != nil {
		if t := s.global.test.Load(); t != nil {
			if v, ok := t.local(name); ok {
				return v, true
			}
		}
	}
	for n := s; n != nil; n = n.defaults.Load() {
		if v, ok := n.local(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (s *Settings) store(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.values.Load()
	var next map[string]any
	if cur == nil {
		next = make(map[string]any, 1)
	} else {
		next = maps.Clone(*cur)
	}
	next[name] = value
	s.values.Store(&next)
}
