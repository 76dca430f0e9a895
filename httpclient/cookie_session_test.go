package httpclient

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieSession(t *testing.T) {
	t.Parallel()

	t.Run("given a login that sets a cookie, then later requests send it", func(t *testing.T) {
		t.Parallel()
		rt, ht := newTestRuntime(t)
		ht.RespondWith(http.StatusOK, "", http.Header{"Set-Cookie": {"session=s1; Path=/; HttpOnly"}})

		session, err := rt.CookieSession("https://api.example.com")
		require.NoError(t, err)

		_, err = session.Request("login").BodyForm(map[string]string{"user": "ada"}).Post(context.Background())
		require.NoError(t, err)
		_, err = session.Request("account").Get(context.Background())
		require.NoError(t, err)

		ht.ShouldHaveCalled("https://api.example.com/login").WithVerb(http.MethodPost).WithRequestBody("user=ada").Times(1).Assert(t)
		ht.ShouldHaveCalled("https://api.example.com/account").WithCookie("session", "s1").Times(1).Assert(t)
		assert.Equal(t, 1, session.Jar().Len())
	})

	t.Run("given the session client, then it is the runtime's cached client", func(t *testing.T) {
		t.Parallel()
		rt, _ := newTestRuntime(t)

		session, err := rt.CookieSession("https://api.example.com/v1")
		require.NoError(t, err)
		cached, err := rt.Client("https://api.example.com/other")
		require.NoError(t, err)
		assert.Same(t, cached, session.Client())
	})

	t.Run("given Close, then the jar is emptied", func(t *testing.T) {
		t.Parallel()
		rt, ht := newTestRuntime(t)
		ht.RespondWith(http.StatusOK, "", http.Header{"Set-Cookie": {"a=1"}})

		session := NewCookieSession(New(WithRuntime(rt), WithBaseURL("https://api.example.com")))
		_, err := session.Request().Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, session.Jar().Len())

		session.Close()
		assert.Equal(t, 0, session.Jar().Len())
	})

	t.Run("given an explicit cookie, then it wins over the session jar", func(t *testing.T) {
		t.Parallel()
		rt, ht := newTestRuntime(t)
		session := NewCookieSession(New(WithRuntime(rt), WithBaseURL("https://api.example.com")))
		require.NoError(t, session.Jar().Add("theme", "dark", "https://api.example.com/"))

		_, err := session.Request("prefs").WithCookie("theme", "light").Get(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "theme=light", ht.LastRequest().Header.Get("Cookie"))
	})
}
