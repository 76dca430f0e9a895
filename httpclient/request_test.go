package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/fluentrest-go/cookie"
	"github.com/kroma-labs/fluentrest-go/settings"
)

func TestRequest_URL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func(*Request) *Request
		raw   string
		want  string
	}{
		{
			name:  "given a path param, then the value is escaped",
			raw:   "https://api.example.com/users/{id}",
			build: func(r *Request) *Request { return r.PathParam("id", "a b/c") },
			want:  "https://api.example.com/users/a%20b%2Fc",
		},
		{
			name:  "given a URL with a query, then path segments go before it",
			raw:   "https://api.example.com/v1/?x=1",
			build: func(r *Request) *Request { return r.Path("users", "/42") },
			want:  "https://api.example.com/v1/users/42?x=1",
		},
		{
			name: "given repeated query keys, then every value is kept",
			raw:  "https://api.example.com/search",
			build: func(r *Request) *Request {
				return r.Query("tag", "a").Query("tag", "b").Query("page", 2)
			},
			want: "https://api.example.com/search?page=2&tag=a&tag=b",
		},
		{
			name:  "given Queries, then they merge with the URL query",
			raw:   "https://api.example.com/search?q=go",
			build: func(r *Request) *Request { return r.Queries(map[string]string{"limit": "10"}) },
			want:  "https://api.example.com/search?limit=10&q=go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt, _ := newTestRuntime(t)

			resp, err := tt.build(rt.Request(tt.raw)).Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Call().URL().String())
		})
	}

	t.Run("given a relative URL, then the call fails before sending", func(t *testing.T) {
		t.Parallel()
		rt, ht := newTestRuntime(t)

		_, err := rt.Request("/users").Get(context.Background())
		require.ErrorIs(t, err, ErrTransport)
		assert.ErrorContains(t, errors.Unwrap(err), "is not absolute")
		assert.Equal(t, 0, ht.RequestCount())
	})
}

func TestRequest_Headers(t *testing.T) {
	t.Parallel()

	t.Run("given a request header, then it replaces the client header", func(t *testing.T) {
		t.Parallel()
		rt, ht := newTestRuntime(t)
		client := New(WithRuntime(rt), WithBaseURL("https://api.example.com"), WithDefaultHeader("X-Tenant", "client"))

		_, err := client.Request("items").Header("x-tenant", "request").Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"request"}, ht.LastRequest().Header.Values("X-Tenant"))
	})

	t.Run("given a removed request header, then the client header is sent again", func(t *testing.T) {
		t.Parallel()
		rt, ht := newTestRuntime(t)
		client := New(WithRuntime(rt), WithBaseURL("https://api.example.com"), WithDefaultHeader("X-Tenant", "client"))

		_, err := client.Request("items").
			Headers(map[string]string{"X-Tenant": "request"}).
			RemoveHeader("X-Tenant").
			Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "client", ht.LastRequest().Header.Get("X-Tenant"))
	})
}

func TestRequest_Cookies(t *testing.T) {
	t.Parallel()

	newJar := func(t *testing.T) *cookie.Jar {
		t.Helper()
		jar := cookie.NewJar()
		require.NoError(t, jar.Add("theme", "dark", "https://api.example.com/"))
		require.NoError(t, jar.Add("sid", "1", "https://api.example.com/"))
		return jar
	}

	tests := []struct {
		name  string
		build func(r *Request, jar *cookie.Jar) *Request
		want  []cookie.Pair
	}{
		{
			name:  "given a Cookie header, then it is parsed into request cookies",
			build: func(r *Request, _ *cookie.Jar) *Request { return r.Header("Cookie", "a=1; b=2") },
			want:  []cookie.Pair{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}},
		},
		{
			name: "given a removed Cookie header, then no cookies are sent",
			build: func(r *Request, _ *cookie.Jar) *Request {
				return r.Header("Cookie", "a=1").RemoveHeader("cookie")
			},
			want: nil,
		},
		{
			name: "given a cookie set twice, then the last value wins",
			build: func(r *Request, _ *cookie.Jar) *Request {
				return r.WithCookie("a", "1").WithCookie("a", "2")
			},
			want: []cookie.Pair{{Name: "a", Value: "2"}},
		},
		{
			name: "given a cookie set before the jar, then the jar value wins",
			build: func(r *Request, jar *cookie.Jar) *Request {
				return r.WithCookie("theme", "light").WithCookieJar(jar)
			},
			want: []cookie.Pair{{Name: "theme", Value: "dark"}, {Name: "sid", Value: "1"}},
		},
		{
			name: "given a cookie set after the jar, then the explicit value wins",
			build: func(r *Request, jar *cookie.Jar) *Request {
				return r.WithCookieJar(jar).WithCookie("theme", "light")
			},
			want: []cookie.Pair{{Name: "theme", Value: "light"}, {Name: "sid", Value: "1"}},
		},
		{
			name: "given a detached jar, then only explicit cookies remain",
			build: func(r *Request, jar *cookie.Jar) *Request {
				return r.WithCookieJar(jar).WithCookie("lang", "en").DetachCookieJar()
			},
			want: []cookie.Pair{{Name: "lang", Value: "en"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt, ht := newTestRuntime(t)

			r := tt.build(rt.Request("https://api.example.com/prefs"), newJar(t))
			assert.Equal(t, tt.want, r.Cookies())

			_, err := r.Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, cookie.FormatHeader(cookie.Pairs(tt.want)), ht.LastRequest().Header.Get("Cookie"))
		})
	}
}

func TestRequest_SettingsCascade(t *testing.T) {
	t.Parallel()

	t.Run("given settings on each layer, then the most specific wins", func(t *testing.T) {
		t.Parallel()
		rt, ht := newTestRuntime(t)
		rt.Configure(func(s *settings.Settings) {
			s.SetTimeout(30 * time.Second)
			s.SetAllowedHTTPStatusRange("404")
		})
		client := New(WithRuntime(rt), WithTimeout(10*time.Second))

		r := client.Request()
		assert.Equal(t, 10*time.Second, r.Settings().Timeout())
		assert.Equal(t, "404", r.Settings().AllowedHTTPStatusRange())

		r.WithTimeout(2 * time.Second).AllowHTTPStatusCodes(404, 409)
		assert.Equal(t, 2*time.Second, r.Settings().Timeout())
		assert.Equal(t, "404,409", r.Settings().AllowedHTTPStatusRange())
		assert.Equal(t, 10*time.Second, client.Settings().Timeout())

		ht.Settings().SetTimeout(time.Second)
		assert.Equal(t, time.Second, r.Settings().Timeout())
		assert.Equal(t, time.Second, client.Settings().Timeout())
	})

	t.Run("given a runtime request, then it inherits the cached client on send", func(t *testing.T) {
		t.Parallel()
		rt, _ := newTestRuntime(t)
		require.NoError(t, rt.ConfigureClient("https://api.example.com", func(c *Client) {
			c.Settings().SetAllowedHTTPStatusRange("4xx")
		}))
		rt.ActiveTest().RespondWith(http.StatusNotFound, "", nil)

		r := rt.Request("https://api.example.com/missing")
		assert.Nil(t, r.Client())

		resp, err := r.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.NotNil(t, r.Client())
	})

	t.Run("given Configure on the request, then only the request changes", func(t *testing.T) {
		t.Parallel()
		rt, _ := newTestRuntime(t)
		client := New(WithRuntime(rt))

		r := client.Request().Configure(func(s *settings.Settings) {
			s.Redirects().SetMaxAutoRedirects(2)
		})
		assert.Equal(t, 2, r.Settings().Redirects().MaxAutoRedirects())
		assert.NotEqual(t, 2, client.Settings().Redirects().MaxAutoRedirects())
	})
}
