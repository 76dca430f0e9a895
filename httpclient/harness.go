package httpclient

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/kroma-labs/fluentrest-go/settings"
)

// HTTPTest fakes the network for every client of a runtime. While it is
// active, the runtime's test layer routes transports to the embedded
// MockTransport and its settings take precedence over every other layer.
//
// Example:
//
//	ht := httpclient.NewHTTPTest(rt)
//	defer ht.Close()
//
//	ht.RespondWith(http.StatusOK, `{"id":1}`, nil)
//	_, err := rt.Request("https://api.example.com/users").BodyJSON(u).Post(ctx)
//
//	ht.ShouldHaveCalled("https://api.example.com/users").WithVerb("POST").Times(1).Assert(t)
type HTTPTest struct {
	*MockTransport

	runtime *Runtime
	layer   *settings.Settings

	mu    sync.Mutex
	calls []*Call
}

// NewHTTPTest starts faking rt, or Default() when rt is nil. Requests that
// find nothing queued or stubbed get an empty 200.
func NewHTTPTest(rt *Runtime) *HTTPTest {
	if rt == nil {
		rt = Default()
	}

	ht := &HTTPTest{
		MockTransport: NewMockTransport(),
		runtime:       rt,
	}
	ht.StubResponse(http.StatusOK, "")

	ht.layer = rt.global.BeginTest()
	settings.Set(ht.layer, TransportFactoryKey, NewTransportFactory("httptest", func(*Client) http.RoundTripper {
		return recordingTransport{ht}
	}))
	rt.test.Store(ht)
	return ht
}

// Settings returns the test layer. Values set here win over every client
// and request.
func (ht *HTTPTest) Settings() *settings.Settings {
	return ht.layer
}

// Calls returns the calls sent so far, one entry per transport attempt.
func (ht *HTTPTest) Calls() []*Call {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return append([]*Call(nil), ht.calls...)
}

// Close stops faking the runtime and discards the test layer.
func (ht *HTTPTest) Close() {
	ht.runtime.test.CompareAndSwap(ht, nil)
	ht.runtime.global.EndTest()
}

// ShouldHaveCalled starts an assertion over calls whose URL matches
// urlPattern, where '*' matches any run of characters.
func (ht *HTTPTest) ShouldHaveCalled(urlPattern string) *CallAssertion {
	return &CallAssertion{
		calls:   ht.Calls(),
		pattern: urlPattern,
		match:   wildcardRegexp(urlPattern),
		times:   -1,
	}
}

// ShouldNotHaveCalled asserts no call matched urlPattern.
func (ht *HTTPTest) ShouldNotHaveCalled(urlPattern string) *CallAssertion {
	return ht.ShouldHaveCalled(urlPattern).Times(0)
}

type recordingTransport struct {
	ht *HTTPTest
}

func (t recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if call := callFromContext(req.Context()); call != nil {
		t.ht.mu.Lock()
		t.ht.calls = append(t.ht.calls, call)
		t.ht.mu.Unlock()
	}
	return t.ht.MockTransport.RoundTrip(req)
}

// CallAssertion filters recorded calls and checks how many remain.
type CallAssertion struct {
	calls   []*Call
	pattern string
	match   *regexp.Regexp
	filters []string
	preds   []func(*Call) bool
	times   int
}

// WithVerb keeps calls with method.
func (a *CallAssertion) WithVerb(method string) *CallAssertion {
	return a.where("verb "+method, func(c *Call) bool {
		return strings.EqualFold(c.Method(), method)
	})
}

// WithHeader keeps calls that sent header name with a value matching
// valuePattern ('*' wildcards).
func (a *CallAssertion) WithHeader(name, valuePattern string) *CallAssertion {
	re := wildcardRegexp(valuePattern)
	return a.where(fmt.Sprintf("header %s: %s", name, valuePattern), func(c *Call) bool {
		for _, v := range c.HTTPRequest.Header.Values(name) {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	})
}

// WithCookie keeps calls that sent cookie name=value.
func (a *CallAssertion) WithCookie(name, value string) *CallAssertion {
	return a.where(fmt.Sprintf("cookie %s=%s", name, value), func(c *Call) bool {
		for _, ck := range c.HTTPRequest.Cookies() {
			if ck.Name == name && ck.Value == value {
				return true
			}
		}
		return false
	})
}

// WithRequestBody keeps calls whose body matches bodyPattern ('*' wildcards).
func (a *CallAssertion) WithRequestBody(bodyPattern string) *CallAssertion {
	re := wildcardRegexp(bodyPattern)
	return a.where("body "+bodyPattern, func(c *Call) bool {
		return re.Match(c.RequestBody)
	})
}

// WithQueryParam keeps calls whose query has name=value.
func (a *CallAssertion) WithQueryParam(name, value string) *CallAssertion {
	return a.where(fmt.Sprintf("query %s=%s", name, value), func(c *Call) bool {
		for _, v := range c.URL().Query()[name] {
			if v == value {
				return true
			}
		}
		return false
	})
}

// WithoutRequestBody keeps calls that sent no body.
func (a *CallAssertion) WithoutRequestBody() *CallAssertion {
	return a.where("no body", func(c *Call) bool {
		return len(bytes.TrimSpace(c.RequestBody)) == 0
	})
}

// Times requires exactly n matching calls. Without it, at least one is
// required.
func (a *CallAssertion) Times(n int) *CallAssertion {
	a.times = n
	return a
}

func (a *CallAssertion) where(desc string, pred func(*Call) bool) *CallAssertion {
	a.filters = append(a.filters, desc)
	a.preds = append(a.preds, pred)
	return a
}

// Count returns the number of matching calls.
func (a *CallAssertion) Count() int {
	n := 0
	for _, c := range a.calls {
		if a.matches(c) {
			n++
		}
	}
	return n
}

func (a *CallAssertion) matches(c *Call) bool {
	if u := c.URL(); u == nil || !a.match.MatchString(u.String()) {
		return false
	}
	for _, pred := range a.preds {
		if !pred(c) {
			return false
		}
	}
	return true
}

// Err describes the mismatch, or returns nil.
func (a *CallAssertion) Err() error {
	n := a.Count()
	switch {
	case a.times < 0 && n > 0:
		return nil
	case a.times == n:
		return nil
	}

	want := "at least 1 call"
	if a.times >= 0 {
		want = fmt.Sprintf("%d call(s)", a.times)
	}
	desc := a.pattern
	if len(a.filters) > 0 {
		desc += " with " + strings.Join(a.filters, ", ")
	}
	return fmt.Errorf("expected %s to %s, got %d", want, desc, n)
}

// TestingT is the part of *testing.T that Assert reports through.
type TestingT interface {
	Errorf(format string, args ...any)
}

// Assert reports the mismatch through t and returns whether the calls matched.
func (a *CallAssertion) Assert(t TestingT) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if err := a.Err(); err != nil {
		t.Errorf("%s", err)
		return false
	}
	return true
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
