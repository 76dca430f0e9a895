package settings

// Redirects is a view over the redirect policy keys of one node.
// Reads resolve through the cascade; writes land on the viewed node.
type Redirects struct {
	s *Settings
}

// Redirects returns the redirect policy view of s.
func (s *Settings) Redirects() Redirects {
	return Redirects{s: s}
}

// Enabled reports whether 3xx responses are followed automatically.
func (r Redirects) Enabled() bool {
	return Get(r.s, RedirectsEnabledKey)
}

// SetEnabled toggles automatic redirects.
func (r Redirects) SetEnabled(v bool) {
	Set(r.s, RedirectsEnabledKey, v)
}

// AllowSecureToInsecure reports whether an https to http hop may be followed.
func (r Redirects) AllowSecureToInsecure() bool {
	return Get(r.s, RedirectsAllowSecureToInsecureKey)
}

// SetAllowSecureToInsecure toggles https to http hops.
func (r Redirects) SetAllowSecureToInsecure(v bool) {
	Set(r.s, RedirectsAllowSecureToInsecureKey, v)
}

// ForwardHeaders reports whether request headers are copied to the
// redirected request.
func (r Redirects) ForwardHeaders() bool {
	return Get(r.s, RedirectsForwardHeadersKey)
}

// SetForwardHeaders toggles header forwarding.
func (r Redirects) SetForwardHeaders(v bool) {
	Set(r.s, RedirectsForwardHeadersKey, v)
}

// ForwardAuthorizationHeader reports whether Authorization survives a redirect.
func (r Redirects) ForwardAuthorizationHeader() bool {
	return Get(r.s, RedirectsForwardAuthorizationHeaderKey)
}

// SetForwardAuthorizationHeader toggles Authorization forwarding.
func (r Redirects) SetForwardAuthorizationHeader(v bool) {
	Set(r.s, RedirectsForwardAuthorizationHeaderKey, v)
}

// MaxAutoRedirects is the number of hops followed before giving up.
func (r Redirects) MaxAutoRedirects() int {
	return Get(r.s, RedirectsMaxAutoRedirectsKey)
}

// SetMaxAutoRedirects overrides the hop limit.
func (r Redirects) SetMaxAutoRedirects(n int) {
	Set(r.s, RedirectsMaxAutoRedirectsKey, n)
}
