package cookie

import (
	"fmt"
	"maps"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func collect(seq func(func(string, string) bool)) []Pair {
	var out []Pair
	for name, value := range seq {
		out = append(out, Pair{Name: name, Value: value})
	}
	return out
}

func TestJar_TryAddOrReplace(t *testing.T) {
	t.Parallel()

	t.Run("given an invalid cookie, then it is refused and left untouched", func(t *testing.T) {
		jar := NewJar()
		c := mustCookie(t, "x", "foo", "http://cookies.com", WithSecure(true))

		ok, reason := jar.TryAddOrReplace(c)

		assert.False(t, ok)
		assert.NotEmpty(t, reason)
		assert.Equal(t, 0, jar.Len())
		assert.False(t, c.Locked())
		require.NoError(t, c.SetSecure(false))
	})

	t.Run("given a nil cookie, then it is refused", func(t *testing.T) {
		ok, reason := NewJar().TryAddOrReplace(nil)
		assert.False(t, ok)
		assert.NotEmpty(t, reason)
	})

	t.Run("given same name and path, then the cookie is replaced", func(t *testing.T) {
		jar := NewJar()
		require.NoError(t, jar.Add("x", "1", "https://cookies.com"))
		require.NoError(t, jar.Add("x", "2", "https://cookies.com"))

		require.Equal(t, 1, jar.Len())
		assert.Equal(t, "2", jar.Get("x")[0].Value())
	})

	t.Run("given same name and different paths, then both are kept", func(t *testing.T) {
		jar := NewJar()
		require.NoError(t, jar.Add("x", "1", "https://cookies.com", WithPath("/")))
		require.NoError(t, jar.Add("x", "2", "https://cookies.com", WithPath("/a")))

		assert.Equal(t, 2, jar.Len())
	})

	t.Run("given names differing only in case, then both are kept", func(t *testing.T) {
		jar := NewJar()
		require.NoError(t, jar.Add("a", "1", "https://cookies.com"))
		require.NoError(t, jar.Add("A", "2", "https://cookies.com"))

		assert.Equal(t, 2, jar.Len())
		assert.Len(t, jar.Get("a"), 1)
		assert.Len(t, jar.Get("A"), 1)
	})

	t.Run("given the same cookie added twice, then membership is unchanged", func(t *testing.T) {
		jar := NewJar()
		c := mustCookie(t, "x", "foo", "https://cookies.com")

		ok1, _ := jar.TryAddOrReplace(c)
		ok2, _ := jar.TryAddOrReplace(c)

		assert.True(t, ok1)
		assert.True(t, ok2)
		assert.Equal(t, []*Cookie{c}, jar.All())
	})
}

func TestJar_AddOrReplace(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	err := jar.AddOrReplace(mustCookie(t, "x", "foo", "https://www.cookies.com", WithDomain("cookies2.com")))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)

	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "x", invalid.Name)
	assert.NotEmpty(t, invalid.Reason)
	assert.Contains(t, err.Error(), invalid.Reason)
}

func TestJar_NewJarFrom(t *testing.T) {
	t.Parallel()

	t.Run("given valid seeds, then all are stored", func(t *testing.T) {
		jar, err := NewJarFrom([]*Cookie{
			mustCookie(t, "x", "1", "https://cookies.com"),
			mustCookie(t, "y", "2", "https://cookies.com"),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, jar.Len())
	})

	t.Run("given an invalid seed, then construction fails", func(t *testing.T) {
		_, err := NewJarFrom([]*Cookie{
			mustCookie(t, "x", "1", "http://cookies.com", WithSecure(true)),
		})
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestJar_MatchesRequest_Order(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jar := NewJar(WithClock(func() time.Time { return base.Add(time.Minute) }))

	require.NoError(t, jar.Add("y", "bar", "https://cookies.com", WithPath("/"), WithDateReceived(base.Add(time.Second))))
	require.NoError(t, jar.Add("x", "foo2", "https://cookies.com", WithPath("/"), WithDateReceived(base)))
	require.NoError(t, jar.Add("x", "foo3", "https://cookies.com", WithPath("/a"), WithDateReceived(base.Add(2*time.Second))))

	u := mustURL(t, "https://cookies.com/a/b")

	assert.Equal(t, []Pair{
		{Name: "x", Value: "foo3"},
		{Name: "x", Value: "foo2"},
		{Name: "y", Value: "bar"},
	}, collect(jar.MatchesRequest(u)))
	assert.Equal(t, "x=foo3; x=foo2; y=bar", jar.Header(u))
}

func TestJar_MatchesRequest_PathPrecedence(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	require.NoError(t, jar.Add("x", "root", "https://cookies.com", WithPath("/")))
	require.NoError(t, jar.Add("x", "deep", "https://cookies.com", WithPath("/a/b")))

	pairs := collect(jar.MatchesRequest(mustURL(t, "https://cookies.com/a/b/c")))

	require.Len(t, pairs, 2)
	assert.Equal(t, "deep", pairs[0].Value)
	assert.Equal(t, "root", pairs[1].Value)
}

func TestJar_MatchesRequest_Restartable(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	require.NoError(t, jar.Add("x", "1", "https://cookies.com"))
	require.NoError(t, jar.Add("y", "2", "https://cookies.com"))

	seq := jar.MatchesRequest(mustURL(t, "https://cookies.com"))

	first := collect(seq)
	second := collect(seq)
	assert.Equal(t, first, second)

	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)

	// a later write is visible to the same sequence
	require.NoError(t, jar.Add("z", "3", "https://cookies.com"))
	assert.Len(t, collect(seq), 3)
}

func TestJar_MatchesRequest_ExpiryIsLazy(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jar := NewJar(WithClock(func() time.Time { return now }))

	require.NoError(t, jar.Add("x", "foo", "https://cookies.com", WithMaxAge(1), WithDateReceived(now)))
	u := mustURL(t, "https://cookies.com")
	assert.Equal(t, "x=foo", jar.Header(u))

	now = now.Add(2 * time.Second)

	assert.Empty(t, jar.Header(u))
	assert.Equal(t, 1, jar.Len())
}

func TestJar_DeleteByOverwrite(t *testing.T) {
	t.Parallel()

	t.Run("given max-age zero response cookie, then matching cookie is evicted", func(t *testing.T) {
		seed := mustCookie(t, "x", "foo", "https://cookies.com", WithDomain("cookies.com"))
		jar, err := NewJarFrom([]*Cookie{seed})
		require.NoError(t, err)

		u := mustURL(t, "https://cookies.com")
		assert.Equal(t, "x=foo", jar.Header(u))

		deletion, err := Parse("https://cookies.com", "x=foo; Max-Age=0")
		require.NoError(t, err)

		ok, reason := jar.TryAddOrReplace(deletion)
		assert.False(t, ok)
		assert.NotEmpty(t, reason)

		assert.Empty(t, jar.Header(u))
		assert.Equal(t, 0, jar.Len())
	})

	t.Run("given past expires response cookie, then matching cookie is evicted", func(t *testing.T) {
		jar := NewJar()
		require.NoError(t, jar.Add("x", "foo", "https://cookies.com"))

		deletion, err := Parse("https://cookies.com", "x=; Expires=Thu, 01 Jan 1970 00:00:00 GMT")
		require.NoError(t, err)
		ok, _ := jar.TryAddOrReplace(deletion)

		assert.False(t, ok)
		assert.Equal(t, 0, jar.Len())
	})

	t.Run("given a different path, then nothing is evicted", func(t *testing.T) {
		jar := NewJar()
		require.NoError(t, jar.Add("z", "baz", "https://cookies.com"))

		deletion, err := Parse("https://cookies.com", "z=bazz; Path=/a; Max-Age=0")
		require.NoError(t, err)
		ok, _ := jar.TryAddOrReplace(deletion)

		assert.False(t, ok)
		assert.Equal(t, 1, jar.Len())
		assert.Equal(t, "baz", jar.Get("z")[0].Value())
	})
}

func TestJar_RemoveAndClear(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	require.NoError(t, jar.Add("x", "1", "https://cookies.com"))
	require.NoError(t, jar.Add("y", "2", "https://cookies.com"))
	require.NoError(t, jar.Add("z", "3", "https://cookies.com"))

	removed := jar.Remove(func(c *Cookie) bool { return c.Name() == "y" })
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, jar.Len())

	jar.Clear()
	assert.Equal(t, 0, jar.Len())
}

func TestJar_Concurrent(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	u, err := url.Parse("https://cookies.com/a")
	require.NoError(t, err)

	var g errgroup.Group
	for i := range 100 {
		g.Go(func() error {
			return jar.Add(fmt.Sprintf("c%d", i%10), fmt.Sprint(i), "https://cookies.com")
		})
		g.Go(func() error {
			_ = maps.Collect(jar.MatchesRequest(u))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 10, jar.Len())
}
