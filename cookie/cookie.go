package cookie

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
)

// ErrLocked is returned by setters on a cookie that belongs to a jar.
var ErrLocked = errors.New("cookie: cannot modify a cookie after it has been added to a jar")

// ErrInvalid matches every *InvalidError with errors.Is.
var ErrInvalid = errors.New("cookie: invalid")

// InvalidError reports why a cookie was refused by a jar.
type InvalidError struct {
	Name   string
	Reason string
}

// Error implements error.
func (e *InvalidError) Error() string {
	return fmt.Sprintf("cookie %q is invalid: %s", e.Name, e.Reason)
}

// Is reports whether target is ErrInvalid.
func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalid
}

// SameSite is the value of the SameSite attribute.
type SameSite int

const (
	SameSiteUnset SameSite = iota
	SameSiteStrict
	SameSiteLax
	SameSiteNone
)

// String returns the attribute value as written in a Set-Cookie header.
func (s SameSite) String() string {
	switch s {
	case SameSiteStrict:
		return "Strict"
	case SameSiteLax:
		return "Lax"
	case SameSiteNone:
		return "None"
	default:
		return ""
	}
}

// Cookie is a single cookie together with the URL it came from.
type Cookie struct {
	name         string
	value        string
	origin       *url.URL
	domain       string
	path         string
	expires      time.Time
	maxAge       int
	hasMaxAge    bool
	secure       bool
	httpOnly     bool
	sameSite     SameSite
	dateReceived time.Time

	lockOnce      sync.Once
	locked        atomic.Bool
	effectivePath string
}

// Option configures a Cookie at construction.
type Option func(*Cookie)

// WithDomain sets the Domain attribute.
func WithDomain(domain string) Option {
	return func(c *Cookie) { c.domain = domain }
}

// WithPath sets the Path attribute.
func WithPath(path string) Option {
	return func(c *Cookie) { c.path = path }
}

// WithExpires sets the Expires attribute.
func WithExpires(t time.Time) Option {
	return func(c *Cookie) { c.expires = t }
}

// WithMaxAge sets the Max-Age attribute in seconds. Zero or less means the
// cookie is already expired.
func WithMaxAge(seconds int) Option {
	return func(c *Cookie) {
		c.maxAge = seconds
		c.hasMaxAge = true
	}
}

// WithSecure sets the Secure attribute.
func WithSecure(secure bool) Option {
	return func(c *Cookie) { c.secure = secure }
}

// WithHTTPOnly sets the HttpOnly attribute.
func WithHTTPOnly(httpOnly bool) Option {
	return func(c *Cookie) { c.httpOnly = httpOnly }
}

// WithSameSite sets the SameSite attribute.
func WithSameSite(s SameSite) Option {
	return func(c *Cookie) { c.sameSite = s }
}

// WithDateReceived overrides the receive time, which defaults to time.Now.
func WithDateReceived(t time.Time) Option {
	return func(c *Cookie) { c.dateReceived = t }
}

// New creates a cookie received from originURL.
// originURL must be absolute.
func New(name, value, originURL string, opts ...Option) (*Cookie, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("cookie: parse origin url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("cookie: origin url %q is not absolute", originURL)
	}

	c := &Cookie{
		name:         name,
		value:        value,
		origin:       u,
		dateReceived: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the cookie name. Names are case-sensitive.
func (c *Cookie) Name() string { return c.name }

// Value returns the cookie value.
func (c *Cookie) Value() string { return c.value }

// OriginURL returns a copy of the URL the cookie was received from.
func (c *Cookie) OriginURL() *url.URL {
	u := *c.origin
	return &u
}

// Domain returns the Domain attribute as received.
func (c *Cookie) Domain() string { return c.domain }

// Path returns the Path attribute as received. See EffectivePath.
func (c *Cookie) Path() string { return c.path }

// Expires returns the Expires attribute and whether it was set.
func (c *Cookie) Expires() (time.Time, bool) { return c.expires, !c.expires.IsZero() }

// MaxAge returns the Max-Age attribute and whether it was set.
func (c *Cookie) MaxAge() (int, bool) { return c.maxAge, c.hasMaxAge }

// Secure reports the Secure attribute.
func (c *Cookie) Secure() bool { return c.secure }

// HTTPOnly reports the HttpOnly attribute.
func (c *Cookie) HTTPOnly() bool { return c.httpOnly }

// SameSite returns the SameSite attribute.
func (c *Cookie) SameSite() SameSite { return c.sameSite }

// DateReceived returns when the cookie was received.
func (c *Cookie) DateReceived() time.Time { return c.dateReceived }

// Locked reports whether the cookie belongs to a jar.
func (c *Cookie) Locked() bool { return c.locked.Load() }

// SetValue changes the value.
func (c *Cookie) SetValue(v string) error {
	return c.mutate(func() { c.value = v })
}

// SetDomain changes the Domain attribute.
func (c *Cookie) SetDomain(d string) error {
	return c.mutate(func() { c.domain = d })
}

// SetPath changes the Path attribute.
func (c *Cookie) SetPath(p string) error {
	return c.mutate(func() { c.path = p })
}

// SetExpires changes the Expires attribute. A zero time clears it.
func (c *Cookie) SetExpires(t time.Time) error {
	return c.mutate(func() { c.expires = t })
}

// SetMaxAge changes the Max-Age attribute.
func (c *Cookie) SetMaxAge(seconds int) error {
	return c.mutate(func() {
		c.maxAge = seconds
		c.hasMaxAge = true
	})
}

// ClearMaxAge removes the Max-Age attribute.
func (c *Cookie) ClearMaxAge() error {
	return c.mutate(func() {
		c.maxAge = 0
		c.hasMaxAge = false
	})
}

// SetSecure changes the Secure attribute.
func (c *Cookie) SetSecure(v bool) error {
	return c.mutate(func() { c.secure = v })
}

// SetHTTPOnly changes the HttpOnly attribute.
func (c *Cookie) SetHTTPOnly(v bool) error {
	return c.mutate(func() { c.httpOnly = v })
}

// SetSameSite changes the SameSite attribute.
func (c *Cookie) SetSameSite(s SameSite) error {
	return c.mutate(func() { c.sameSite = s })
}

func (c *Cookie) mutate(fn func()) error {
	if c.locked.Load() {
		return ErrLocked
	}
	fn()
	return nil
}

// lock freezes the cookie and pins its effective path.
func (c *Cookie) lock() {
	c.lockOnce.Do(func() {
		c.effectivePath = c.computeEffectivePath()
		c.locked.Store(true)
	})
}

// EffectivePath is the Path attribute when it is a valid absolute path,
// otherwise the default path derived from the origin URL.
func (c *Cookie) EffectivePath() string {
	if c.locked.Load() {
		return c.effectivePath
	}
	return c.computeEffectivePath()
}

func (c *Cookie) computeEffectivePath() string {
	if strings.HasPrefix(c.path, "/") {
		return c.path
	}
	return defaultPath(c.origin.Path)
}

// normalizedDomain strips leading dots and lowercases. An all-dot domain
// becomes empty, which means "not set".
func (c *Cookie) normalizedDomain() string {
	return strings.ToLower(strings.TrimLeft(c.domain, "."))
}

// Validate checks the cookie against its origin.
// It returns false and a human-readable reason when the cookie must be refused.
func (c *Cookie) Validate() (bool, string) {
	if c.name == "" {
		return false, "Cookie name cannot be empty."
	}

	host := strings.ToLower(c.origin.Hostname())
	domain := c.normalizedDomain()

	if domain != "" {
		if net.ParseIP(host) != nil {
			return false, "Domain cannot be set when the origin host is an IP address."
		}
		if !domainMatch(host, domain) {
			return false, fmt.Sprintf("Domain %q is not a suffix of origin host %q.", c.domain, host)
		}
		if domain != host && isPublicSuffix(domain) {
			return false, fmt.Sprintf("Domain %q is a public suffix.", c.domain)
		}
	}

	if c.secure && !isSecureScheme(c.origin.Scheme) {
		return false, "Secure cookies can only be set from a secure origin."
	}

	switch {
	case strings.HasPrefix(c.name, "__Host-"):
		if !c.secure {
			return false, "Cookies prefixed with __Host- must be Secure."
		}
		if domain != "" {
			return false, "Cookies prefixed with __Host- cannot specify a Domain."
		}
		if c.path != "/" {
			return false, `Cookies prefixed with __Host- must have Path "/".`
		}
	case strings.HasPrefix(c.name, "__Secure-"):
		if !c.secure {
			return false, "Cookies prefixed with __Secure- must be Secure."
		}
	}

	return true, ""
}

// IsExpired reports whether the cookie has expired at now.
// Expires and Max-Age are both checked; either one can expire the cookie.
func (c *Cookie) IsExpired(now time.Time) (bool, string) {
	if !c.expires.IsZero() && !c.expires.After(now) {
		return true, fmt.Sprintf("Cookie expired at %s.", c.expires.UTC().Format(http.TimeFormat))
	}
	if c.hasMaxAge {
		if c.maxAge <= 0 {
			return true, "Cookie Max-Age is zero or negative."
		}
		deadline := c.dateReceived.Add(time.Duration(c.maxAge) * time.Second)
		if !now.Before(deadline) {
			return true, fmt.Sprintf("Cookie Max-Age of %d seconds has elapsed.", c.maxAge)
		}
	}
	return false, ""
}

// ShouldSendTo reports whether the cookie belongs on a request to u at now.
func (c *Cookie) ShouldSendTo(u *url.URL, now time.Time) (bool, string) {
	if ok, reason := c.Validate(); !ok {
		return false, reason
	}
	if expired, reason := c.IsExpired(now); expired {
		return false, reason
	}
	if c.secure && !isSecureScheme(u.Scheme) {
		return false, "Secure cookies are only sent over a secure scheme."
	}

	host := strings.ToLower(u.Hostname())
	if domain := c.normalizedDomain(); domain != "" {
		if !domainMatch(host, domain) {
			return false, "Request host does not match cookie Domain."
		}
	} else if host != strings.ToLower(c.origin.Hostname()) {
		return false, "Request host does not match cookie origin host."
	}

	if !pathMatch(u.Path, c.EffectivePath()) {
		return false, "Request path does not match cookie Path."
	}
	return true, ""
}

// String renders the cookie in Set-Cookie form.
func (c *Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.name)
	b.WriteByte('=')
	b.WriteString(c.value)
	if c.domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.domain)
	}
	if c.path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.path)
	}
	if !c.expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.expires.UTC().Format(http.TimeFormat))
	}
	if c.hasMaxAge {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.maxAge))
	}
	if c.secure {
		b.WriteString("; Secure")
	}
	if c.httpOnly {
		b.WriteString("; HttpOnly")
	}
	if c.sameSite != SameSiteUnset {
		b.WriteString("; SameSite=")
		b.WriteString(c.sameSite.String())
	}
	return b.String()
}

// defaultPath implements RFC 6265 section 5.1.4.
func defaultPath(originPath string) string {
	if originPath == "" || originPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(originPath, "/")
	if i == 0 {
		return "/"
	}
	return originPath[:i]
}

// domainMatch implements RFC 6265 section 5.1.3 for lowercased inputs.
func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain) && net.ParseIP(host) == nil
}

// pathMatch implements RFC 6265 section 5.1.4.
func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

func isSecureScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return true
	default:
		return false
	}
}

func isPublicSuffix(domain string) bool {
	ps, _ := publicsuffix.PublicSuffix(domain)
	return ps == domain
}
