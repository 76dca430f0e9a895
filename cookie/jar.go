package cookie

import (
	"iter"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Jar is an ordered, concurrency-safe cookie store.
//
// Cookies are keyed by case-sensitive name and effective path, so the same
// name may be stored once per path.
type Jar struct {
	mu      sync.RWMutex
	cookies []*Cookie
	now     func() time.Time
	logger  zerolog.Logger
}

// JarOption configures a Jar.
type JarOption func(*Jar)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) JarOption {
	return func(j *Jar) { j.now = now }
}

// WithLogger logs rejected cookies at debug level.
func WithLogger(logger zerolog.Logger) JarOption {
	return func(j *Jar) { j.logger = logger }
}

// NewJar creates an empty jar.
func NewJar(opts ...JarOption) *Jar {
	j := &Jar{
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// NewJarFrom creates a jar seeded with cookies. It fails on the first cookie
// that cannot be stored.
func NewJarFrom(cookies []*Cookie, opts ...JarOption) (*Jar, error) {
	j := NewJar(opts...)
	for _, c := range cookies {
		if err := j.AddOrReplace(c); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// TryAddOrReplace validates c and stores it, replacing any cookie with the
// same name and path. It returns false and the reason when c is refused.
//
// A valid but already expired cookie is refused too, and it evicts the stored
// cookie with the same name and path.
func (j *Jar) TryAddOrReplace(c *Cookie) (bool, string) {
	if c == nil {
		return false, "Cookie is nil."
	}
	if ok, reason := c.Validate(); !ok {
		j.logRejected(c, reason)
		return false, reason
	}

	path := c.EffectivePath()
	if expired, reason := c.IsExpired(j.now()); expired {
		j.mu.Lock()
		removed := j.removeLocked(c.name, path)
		j.mu.Unlock()

		j.logger.Debug().
			Str("cookie", c.name).
			Str("path", path).
			Int("removed", removed).
			Msg("expired cookie evicted matching entries")
		return false, reason
	}

	c.lock()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.removeLocked(c.name, path)
	j.cookies = append(j.cookies, c)
	return true, ""
}

// AddOrReplace is TryAddOrReplace returning an *InvalidError on refusal.
func (j *Jar) AddOrReplace(c *Cookie) error {
	if ok, reason := j.TryAddOrReplace(c); !ok {
		name := ""
		if c != nil {
			name = c.name
		}
		return &InvalidError{Name: name, Reason: reason}
	}
	return nil
}

// Add builds a cookie received from originURL and stores it.
func (j *Jar) Add(name, value, originURL string, opts ...Option) error {
	c, err := New(name, value, originURL, opts...)
	if err != nil {
		return err
	}
	return j.AddOrReplace(c)
}

// MatchesRequest yields the name and value of every cookie that belongs on a
// request to u, longest path first, then oldest first.
//
// The sequence snapshots the jar each time it is iterated.
func (j *Jar) MatchesRequest(u *url.URL) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, c := range j.matching(u) {
			if !yield(c.name, c.value) {
				return
			}
		}
	}
}

// Header returns the Cookie header value for a request to u.
func (j *Jar) Header(u *url.URL) string {
	return FormatHeader(j.MatchesRequest(u))
}

// All returns the stored cookies in insertion order, including expired ones.
func (j *Jar) All() []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.cookies)
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

// Get returns the stored cookies with the given name.
func (j *Jar) Get(name string) []*Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*Cookie
	for _, c := range j.cookies {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// Remove deletes every cookie for which match returns true.
func (j *Jar) Remove(match func(*Cookie) bool) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	before := len(j.cookies)
	j.cookies = slices.DeleteFunc(j.cookies, match)
	return before - len(j.cookies)
}

// Clear empties the jar.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = nil
}

func (j *Jar) matching(u *url.URL) []*Cookie {
	if u == nil {
		return nil
	}
	now := j.now()

	j.mu.RLock()
	out := make([]*Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		if ok, _ := c.ShouldSendTo(u, now); ok {
			out = append(out, c)
		}
	}
	j.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *Cookie) int {
		if la, lb := len(a.effectivePath), len(b.effectivePath); la != lb {
			return lb - la
		}
		return a.dateReceived.Compare(b.dateReceived)
	})
	return out
}

func (j *Jar) removeLocked(name, path string) int {
	before := len(j.cookies)
	j.cookies = slices.DeleteFunc(j.cookies, func(c *Cookie) bool {
		return c.name == name && c.effectivePath == path
	})
	return before - len(j.cookies)
}

func (j *Jar) logRejected(c *Cookie, reason string) {
	j.logger.Debug().
		Str("cookie", c.name).
		Str("origin", c.origin.String()).
		Str("reason", reason).
		Msg("cookie rejected")
}
