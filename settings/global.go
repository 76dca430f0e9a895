package settings

import (
	"sync/atomic"
)

// Global is the root of a settings cascade.
//
// It is fully populated with built-in defaults and hosts the optional test
// layer. Seed functions registered at construction run after the built-ins on
// every ResetDefaults, which lets higher layers (serializers, transport
// factories) contribute their own defaults without this package knowing them.
type Global struct {
	root  *Settings
	seeds []func(*Settings)
	test  atomic.Pointer[Settings]
}

// NewGlobal creates a root node seeded with the built-in defaults followed by seeds.
func NewGlobal(seeds ...func(*Settings)) *Global {
	g := &Global{seeds: seeds}
	g.root = &Settings{global: g}
	g.root.ResetDefaults()
	return g
}

// Settings returns the global node.
func (g *Global) Settings() *Settings {
	return g.root
}

// ResetDefaults discards global overrides and re-seeds the defaults.
func (g *Global) ResetDefaults() {
	g.root.ResetDefaults()
}

// BeginTest activates a fresh test layer and returns it.
// Values set on it win over every node of this cascade until EndTest.
func (g *Global) BeginTest() *Settings {
	t := &Settings{global: g}
	t.defaults.Store(g.root)
	g.test.Store(t)
	return t
}

// EndTest deactivates the test layer.
func (g *Global) EndTest() {
	g.test.Store(nil)
}

// TestLayer returns the active test layer, or nil.
func (g *Global) TestLayer() *Settings {
	return g.test.Load()
}

// seeded builds the default value map on a detached node so readers of the
// root never observe a half-seeded state.
func (g *Global) seeded() map[string]any {
	tmp := &Settings{}

	Set(tmp, TimeoutKey, DefaultTimeout)
	Set(tmp, AllowedHTTPStatusRangeKey, "")
	Set(tmp, RedirectsEnabledKey, true)
	Set(tmp, RedirectsAllowSecureToInsecureKey, false)
	Set(tmp, RedirectsForwardHeadersKey, false)
	Set(tmp, RedirectsForwardAuthorizationHeaderKey, false)
	Set(tmp, RedirectsMaxAutoRedirectsKey, DefaultMaxAutoRedirects)

	for _, seed := range g.seeds {
		seed(tmp)
	}

	if m := tmp.values.Load(); m != nil {
		return *m
	}
	return map[string]any{}
}
