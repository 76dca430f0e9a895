package redirect

import (
	"net/http"
	"net/url"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/fluentrest-go/settings"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func defaultPolicy() Policy {
	return Policy{Enabled: true, MaxAutoRedirects: settings.DefaultMaxAutoRedirects}
}

func TestPolicyFrom(t *testing.T) {
	t.Parallel()

	g := settings.NewGlobal()
	s := g.Settings().Child()

	assert.Equal(t, Policy{Enabled: true, MaxAutoRedirects: 10}, PolicyFrom(s))

	s.Redirects().SetForwardHeaders(true)
	s.Redirects().SetMaxAutoRedirects(3)

	p := PolicyFrom(s)
	assert.True(t, p.ForwardHeaders)
	assert.Equal(t, 3, p.MaxAutoRedirects)
	assert.False(t, PolicyFrom(g.Settings()).ForwardHeaders)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        Input
		policy    Policy
		wantNil   bool
		wantState State
		wantURL   string
		wantGet   bool
		wantCount int
	}{
		{
			name:    "given a 200 response, then nothing applies",
			in:      Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 200, Location: "/y"},
			policy:  defaultPolicy(),
			wantNil: true,
		},
		{
			name:    "given a 300 response, then nothing applies",
			in:      Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 300, Location: "/y"},
			policy:  defaultPolicy(),
			wantNil: true,
		},
		{
			name:    "given a redirect without location, then nothing applies",
			in:      Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 302},
			policy:  defaultPolicy(),
			wantNil: true,
		},
		{
			name:    "given redirects disabled, then nothing applies",
			in:      Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 302, Location: "/y"},
			policy:  Policy{MaxAutoRedirects: 10},
			wantNil: true,
		},
		{
			name:      "given a first hop 302 on GET, then it is pending and keeps the verb",
			in:        Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 302, Location: "/y"},
			policy:    defaultPolicy(),
			wantState: PendingApproval,
			wantURL:   "https://a.com/y",
			wantCount: 1,
		},
		{
			name:      "given POST and 302, then the verb changes to GET",
			in:        Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodPost, StatusCode: 302, Location: "/y"},
			policy:    defaultPolicy(),
			wantState: PendingApproval,
			wantURL:   "https://a.com/y",
			wantGet:   true,
			wantCount: 1,
		},
		{
			name:      "given POST and 307, then the verb is preserved",
			in:        Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodPost, StatusCode: 307, Location: "/y"},
			policy:    defaultPolicy(),
			wantState: PendingApproval,
			wantURL:   "https://a.com/y",
			wantCount: 1,
		},
		{
			name:      "given the count would exceed the max, then it is blocked",
			in:        Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 301, Location: "/y", PreviousCount: 5},
			policy:    Policy{Enabled: true, MaxAutoRedirects: 5},
			wantState: Blocked,
			wantURL:   "https://a.com/y",
			wantCount: 6,
		},
		{
			name:      "given the count equals the max, then it is still pending",
			in:        Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 301, Location: "/y", PreviousCount: 4},
			policy:    Policy{Enabled: true, MaxAutoRedirects: 5},
			wantState: PendingApproval,
			wantURL:   "https://a.com/y",
			wantCount: 5,
		},
		{
			name:      "given https to http without allowance, then it is blocked",
			in:        Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 302, Location: "http://a.com/y"},
			policy:    defaultPolicy(),
			wantState: Blocked,
			wantURL:   "http://a.com/y",
			wantCount: 1,
		},
		{
			name:      "given https to http with allowance, then it is pending",
			in:        Input{URL: mustURL(t, "https://a.com/x"), Method: http.MethodGet, StatusCode: 302, Location: "http://a.com/y"},
			policy:    Policy{Enabled: true, AllowSecureToInsecure: true, MaxAutoRedirects: 10},
			wantState: PendingApproval,
			wantURL:   "http://a.com/y",
			wantCount: 1,
		},
		{
			name:      "given http to https, then it is pending",
			in:        Input{URL: mustURL(t, "http://a.com/x"), Method: http.MethodGet, StatusCode: 308, Location: "https://a.com/y"},
			policy:    defaultPolicy(),
			wantState: PendingApproval,
			wantURL:   "https://a.com/y",
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			intent, err := Evaluate(tt.in, tt.policy)
			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, intent)
				return
			}

			require.NotNil(t, intent)
			assert.Equal(t, tt.wantState, intent.State)
			assert.Equal(t, tt.wantURL, intent.URL.String())
			assert.Equal(t, tt.wantGet, intent.ChangeVerbToGet)
			assert.Equal(t, tt.wantCount, intent.Count)
			assert.Equal(t, tt.wantState == PendingApproval, intent.Follow)
			if tt.wantState == Blocked {
				assert.NotEmpty(t, intent.Reason)
			}
		})
	}
}

func TestEvaluate_BadLocation(t *testing.T) {
	t.Parallel()

	_, err := Evaluate(Input{
		URL:        mustURL(t, "https://a.com/x"),
		Method:     http.MethodGet,
		StatusCode: 302,
		Location:   "http://[::1",
	}, defaultPolicy())

	assert.Error(t, err)
}

func TestIntent_ApproveAndVeto(t *testing.T) {
	t.Parallel()

	t.Run("given a pending intent, then approve follows it", func(t *testing.T) {
		t.Parallel()

		i := &Intent{Follow: true, State: PendingApproval}
		assert.True(t, i.Approve())
		assert.Equal(t, Followed, i.State)
	})

	t.Run("given a vetoed intent, then approve refuses", func(t *testing.T) {
		t.Parallel()

		i := &Intent{Follow: true, State: PendingApproval}
		i.Veto("not today")
		assert.False(t, i.Approve())
		assert.Equal(t, Blocked, i.State)
		assert.Equal(t, "not today", i.Reason)
	})

	t.Run("given follow cleared by a hook, then the intent is blocked", func(t *testing.T) {
		t.Parallel()

		i := &Intent{Follow: true, State: PendingApproval}
		i.Follow = false
		assert.False(t, i.Approve())
		assert.Equal(t, Blocked, i.State)
		assert.NotEmpty(t, i.Reason)
	})

	t.Run("given a blocked intent, then approve never follows", func(t *testing.T) {
		t.Parallel()

		i := &Intent{Follow: true, State: Blocked}
		assert.False(t, i.Approve())
	})
}

func TestResolveLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  string
		location string
		want     string
	}{
		{
			name:     "given an absolute url, then it is used as is",
			current:  "https://a.com/x/y",
			location: "http://b.com/z",
			want:     "http://b.com/z",
		},
		{
			name:     "given a scheme relative url, then the scheme is inherited",
			current:  "https://a.com/x/y",
			location: "//b.com/z",
			want:     "https://b.com/z",
		},
		{
			name:     "given an absolute path, then the authority is kept",
			current:  "https://a.com:8443/x/y",
			location: "/z",
			want:     "https://a.com:8443/z",
		},
		{
			name:     "given a relative path, then it resolves against the current directory",
			current:  "https://a.com/x/y",
			location: "z",
			want:     "https://a.com/x/z",
		},
		{
			name:     "given a relative path with dot segments, then they are removed",
			current:  "https://a.com/x/y/w",
			location: "../z",
			want:     "https://a.com/x/z",
		},
		{
			name:     "given the current query, then it is not inherited",
			current:  "https://a.com/x?q=1",
			location: "/z",
			want:     "https://a.com/z",
		},
		{
			name:     "given no target fragment, then the current fragment is inherited",
			current:  "https://a.com/x#foo",
			location: "/z",
			want:     "https://a.com/z#foo",
		},
		{
			name:     "given a target fragment, then it wins",
			current:  "https://a.com/x#foo",
			location: "/z#bar",
			want:     "https://a.com/z#bar",
		},
		{
			name:     "given surrounding whitespace, then it is trimmed",
			current:  "https://a.com/x",
			location: "  /z ",
			want:     "https://a.com/z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ResolveLocation(mustURL(t, tt.current), tt.location)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestResolveLocation_FragmentChain(t *testing.T) {
	t.Parallel()

	current := mustURL(t, "http://a.com/start#foo")

	var got []string
	for _, location := range []string{"/redir1", "/redir2#bar", "/redir3"} {
		next, err := ResolveLocation(current, location)
		require.NoError(t, err)
		got = append(got, next.String())
		current = next
	}

	assert.Equal(t, []string{
		"http://a.com/redir1#foo",
		"http://a.com/redir2#bar",
		"http://a.com/redir3#bar",
	}, got)
}

func TestChangesVerb(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		method string
		want   bool
	}{
		{301, http.MethodPost, true},
		{302, http.MethodPost, true},
		{303, http.MethodPost, true},
		{307, http.MethodPost, false},
		{308, http.MethodPost, false},
		{301, http.MethodPut, false},
		{302, http.MethodDelete, false},
		{303, http.MethodPut, true},
		{303, http.MethodGet, true},
		{307, http.MethodPut, false},
		{302, "post", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ChangesVerb(tt.status, tt.method), "%d %s", tt.status, tt.method)
	}
}

func TestForwardHeaders(t *testing.T) {
	t.Parallel()

	source := func() http.Header {
		h := make(http.Header)
		h.Set("Cookie", "x=1")
		h.Set("Authorization", "Bearer t")
		h.Set("Transfer-Encoding", "chunked")
		h.Set("X-Custom", "v")
		return h
	}

	tests := []struct {
		name         string
		policy       Policy
		changedToGet bool
		want         []string
	}{
		{
			name:   "given no forwarding, then nothing is carried",
			policy: Policy{},
			want:   nil,
		},
		{
			name:   "given only authorization forwarding, then only authorization is carried",
			policy: Policy{ForwardAuthorizationHeader: true},
			want:   []string{"Authorization"},
		},
		{
			name:   "given general forwarding, then all but cookie and authorization are carried",
			policy: Policy{ForwardHeaders: true},
			want:   []string{"Transfer-Encoding", "X-Custom"},
		},
		{
			name:         "given general forwarding and a verb change, then transfer-encoding is dropped",
			policy:       Policy{ForwardHeaders: true},
			changedToGet: true,
			want:         []string{"X-Custom"},
		},
		{
			name:   "given full forwarding, then cookie is still dropped",
			policy: Policy{ForwardHeaders: true, ForwardAuthorizationHeader: true},
			want:   []string{"Authorization", "Transfer-Encoding", "X-Custom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ForwardHeaders(source(), tt.policy, tt.changedToGet)

			var names []string
			for name := range got {
				names = append(names, name)
			}
			slices.Sort(names)

			assert.Equal(t, tt.want, names)
		})
	}
}

func TestForwardHeaders_CopiesValues(t *testing.T) {
	t.Parallel()

	h := http.Header{"X-Custom": {"a"}}
	out := ForwardHeaders(h, Policy{ForwardHeaders: true}, false)
	out["X-Custom"][0] = "b"

	assert.Equal(t, "a", h.Get("X-Custom"))
}

func TestCheckCircular(t *testing.T) {
	t.Parallel()

	visited := []*url.URL{
		mustURL(t, "https://a.com/a"),
		mustURL(t, "https://a.com/b"),
	}

	assert.NoError(t, CheckCircular(mustURL(t, "https://a.com/c"), slices.Values(visited)))

	err := CheckCircular(mustURL(t, "https://a.com/a"), slices.Values(visited))
	assert.ErrorIs(t, err, ErrCircular)

	assert.NoError(t, CheckCircular(mustURL(t, "https://a.com/a?x=1"), slices.Values(visited)))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not_applicable", NotApplicable.String())
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "pending_approval", PendingApproval.String())
	assert.Equal(t, "followed", Followed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
