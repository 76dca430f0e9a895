package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/fluentrest-go/settings"
)

func roundTrip(t *testing.T, rt http.RoundTripper, method, rawURL, body string) (*http.Response, error) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, rawURL, r)
	require.NoError(t, err)
	return rt.RoundTrip(req)
}

func TestMockTransport(t *testing.T) {
	t.Parallel()

	t.Run("given queued responses, then they are served in order before stubs", func(t *testing.T) {
		t.Parallel()
		m := NewMockTransport().
			StubResponse(http.StatusTeapot, "default").
			RespondWith(http.StatusCreated, "first", nil).
			RespondWith(http.StatusAccepted, "second", http.Header{"X-N": {"2"}})

		codes := make([]int, 0, 3)
		for range 3 {
			resp, err := roundTrip(t, m, http.MethodGet, "https://a.example/", "")
			require.NoError(t, err)
			codes = append(codes, resp.StatusCode)
		}
		assert.Equal(t, []int{201, 202, 418}, codes)
	})

	t.Run("given stubs, then the first matching one answers", func(t *testing.T) {
		t.Parallel()
		m := NewMockTransport().
			StubPath("/users", http.StatusOK, "users").
			StubPathRegex(`^/orders/\d+$`, http.StatusOK, "order").
			StubMethod(http.MethodDelete, http.StatusNoContent, "")

		tests := []struct {
			method, path string
			wantStatus   int
			wantBody     string
		}{
			{http.MethodGet, "/users", 200, "users"},
			{http.MethodGet, "/orders/42", 200, "order"},
			{http.MethodDelete, "/anything", 204, ""},
		}
		for _, tt := range tests {
			resp, err := roundTrip(t, m, tt.method, "https://a.example"+tt.path, "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.wantBody, string(body))
		}

		_, err := roundTrip(t, m, http.MethodGet, "https://a.example/nothing", "")
		assert.ErrorContains(t, err, "mock: no response for request: GET https://a.example/nothing")
	})

	t.Run("given error stubs, then the error is returned", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		m := NewMockTransport().
			StubFuncError(func(r *http.Request) bool { return r.URL.Path == "/fail" }, boom).
			StubError(errors.New("default failure"))

		_, err := roundTrip(t, m, http.MethodGet, "https://a.example/fail", "")
		assert.ErrorIs(t, err, boom)
		_, err = roundTrip(t, m, http.MethodGet, "https://a.example/other", "")
		assert.EqualError(t, err, "default failure")
	})

	t.Run("given requests with bodies, then they are recorded and readable", func(t *testing.T) {
		t.Parallel()
		var hooked string
		m := NewMockTransport().
			StubResponse(http.StatusOK, "").
			OnRequest(func(r *http.Request) {
				data, _ := io.ReadAll(r.Body)
				hooked = string(data)
			})

		_, err := roundTrip(t, m, http.MethodPost, "https://a.example/one", "payload")
		require.NoError(t, err)
		assert.Equal(t, "payload", hooked)

		_, err = roundTrip(t, m, http.MethodGet, "https://a.example/two", "")
		require.NoError(t, err)

		assert.Equal(t, 2, m.RequestCount())
		assert.Equal(t, [][]byte{[]byte("payload"), nil}, m.RequestBodies())

		first := m.Requests()[0]
		data, err := io.ReadAll(first.Body)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
		assert.Equal(t, "/two", m.LastRequest().URL.Path)

		m.Reset()
		assert.Zero(t, m.RequestCount())
		assert.Nil(t, m.LastRequest())
	})

	t.Run("given a canceled request, then the context error is returned", func(t *testing.T) {
		t.Parallel()
		m := NewMockTransport().StubResponse(http.StatusOK, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://a.example/", nil)
		require.NoError(t, err)
		_, err = m.RoundTrip(req)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("given WithMockTransport, then the client sends through the mock", func(t *testing.T) {
		t.Parallel()
		m := NewMockTransport().RespondWithJSON(http.StatusOK, map[string]string{"ok": "yes"})
		client := New(WithRuntime(NewRuntime()), WithMockTransport(m))

		var got map[string]string
		_, err := client.Request().URL("https://a.example/").Decode(&got).Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "yes", got["ok"])
		assert.Equal(t, 1, m.RequestCount())
	})

	t.Run("given the mock factory on a settings node, then that node's clients use it", func(t *testing.T) {
		t.Parallel()
		m := NewMockTransport().StubResponse(http.StatusNoContent, "")
		rt := NewRuntime()
		rt.Configure(func(s *settings.Settings) {
			settings.Set(s, TransportFactoryKey, m.Factory())
		})

		resp, err := rt.Request("https://a.example/").Delete(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Same(t, m.Factory(), m.Factory())
	})
}
