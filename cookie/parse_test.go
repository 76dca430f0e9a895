package cookie

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	expires := time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header string
		check  func(t *testing.T, c *Cookie)
	}{
		{
			name:   "given every attribute, then all are read",
			header: "x=foo; Domain=cookies.com; Path=/a; Expires=Wed, 21 Oct 2015 07:28:00 GMT; Max-Age=10; Secure; HttpOnly; SameSite=Lax",
			check: func(t *testing.T, c *Cookie) {
				assert.Equal(t, "x", c.Name())
				assert.Equal(t, "foo", c.Value())
				assert.Equal(t, "cookies.com", c.Domain())
				assert.Equal(t, "/a", c.Path())
				exp, ok := c.Expires()
				assert.True(t, ok)
				assert.True(t, expires.Equal(exp))
				age, ok := c.MaxAge()
				assert.True(t, ok)
				assert.Equal(t, 10, age)
				assert.True(t, c.Secure())
				assert.True(t, c.HTTPOnly())
				assert.Equal(t, SameSiteLax, c.SameSite())
			},
		},
		{
			name:   "given attribute names in any case, then they are recognized",
			header: "x=foo; domain=cookies.com; PATH=/; secure; HTTPONLY; samesite=strict",
			check: func(t *testing.T, c *Cookie) {
				assert.Equal(t, "cookies.com", c.Domain())
				assert.Equal(t, "/", c.Path())
				assert.True(t, c.Secure())
				assert.True(t, c.HTTPOnly())
				assert.Equal(t, SameSiteStrict, c.SameSite())
			},
		},
		{
			name:   "given surrounding whitespace, then it is trimmed",
			header: "  x =  foo  ;   path = /a  ",
			check: func(t *testing.T, c *Cookie) {
				assert.Equal(t, "x", c.Name())
				assert.Equal(t, "foo", c.Value())
				assert.Equal(t, "/a", c.Path())
			},
		},
		{
			name:   "given a quoted value, then it is unquoted",
			header: `x="foo bar"`,
			check: func(t *testing.T, c *Cookie) {
				assert.Equal(t, "foo bar", c.Value())
			},
		},
		{
			name:   "given an empty expires, then it is ignored",
			header: "x=foo; expires=",
			check: func(t *testing.T, c *Cookie) {
				_, ok := c.Expires()
				assert.False(t, ok)
			},
		},
		{
			name:   "given a dashed cookie date, then it is parsed",
			header: "x=foo; Expires=Wed, 21-Oct-2015 07:28:00 GMT",
			check: func(t *testing.T, c *Cookie) {
				exp, ok := c.Expires()
				require.True(t, ok)
				assert.True(t, expires.Equal(exp))
			},
		},
		{
			name:   "given a non numeric max-age, then it is ignored",
			header: "x=foo; Max-Age=soon",
			check: func(t *testing.T, c *Cookie) {
				_, ok := c.MaxAge()
				assert.False(t, ok)
			},
		},
		{
			name:   "given an empty value, then the cookie is still read",
			header: "x=",
			check: func(t *testing.T, c *Cookie) {
				assert.Equal(t, "x", c.Name())
				assert.Empty(t, c.Value())
			},
		},
		{
			name:   "given an unknown samesite, then it stays unset",
			header: "x=foo; SameSite=sometimes",
			check: func(t *testing.T, c *Cookie) {
				assert.Equal(t, SameSiteUnset, c.SameSite())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := Parse("https://cookies.com/", tt.header)
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	for _, header := range []string{"", "novalue", "=foo", " ; Path=/"} {
		_, err := Parse("https://cookies.com", header)
		assert.ErrorIs(t, err, ErrMalformed, header)
	}
}

func TestParse_InvalidOrigin(t *testing.T) {
	t.Parallel()

	_, err := Parse("not a url", "x=foo")
	assert.Error(t, err)
}

func TestRequestHeader(t *testing.T) {
	t.Parallel()

	pairs := ParseHeader(`x=foo3; x=foo2;y=bar ; ;z="q"`)

	assert.Equal(t, []Pair{
		{Name: "x", Value: "foo3"},
		{Name: "x", Value: "foo2"},
		{Name: "y", Value: "bar"},
		{Name: "z", Value: "q"},
	}, pairs)

	assert.Equal(t, "x=foo3; x=foo2; y=bar; z=q", FormatHeader(Pairs(pairs)))
	assert.Empty(t, FormatHeader(Pairs(nil)))
}
