package cookie

import (
	"errors"
	"iter"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned by Parse for a header without a name=value pair.
var ErrMalformed = errors.New("cookie: malformed Set-Cookie header")

// Pair is one name/value from a request Cookie header.
type Pair struct {
	Name  string
	Value string
}

// cookieDateLayouts are tried in order for the Expires attribute.
var cookieDateLayouts = []string{
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
	"Mon, 02 Jan 06 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// Parse reads a Set-Cookie header value received from originURL.
//
// Attribute names are case-insensitive and surrounding whitespace is ignored.
// A quoted value is unquoted. Unparsable Expires or Max-Age attributes are
// ignored, as are unknown attributes. Parse never validates the cookie;
// that happens when it is added to a jar.
func Parse(originURL, header string) (*Cookie, error) {
	parts := strings.Split(header, ";")

	name, value, ok := strings.Cut(parts[0], "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, ErrMalformed
	}

	c, err := New(name, unquote(strings.TrimSpace(value)), originURL)
	if err != nil {
		return nil, err
	}

	for _, attr := range parts[1:] {
		key, val, _ := strings.Cut(attr, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "domain":
			c.domain = val
		case "path":
			c.path = val
		case "expires":
			if t, ok := parseCookieDate(val); ok {
				c.expires = t
			}
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				c.maxAge = n
				c.hasMaxAge = true
			}
		case "secure":
			c.secure = true
		case "httponly":
			c.httpOnly = true
		case "samesite":
			c.sameSite = parseSameSite(val)
		}
	}
	return c, nil
}

// FormatHeader joins pairs into a request Cookie header value.
func FormatHeader(pairs iter.Seq2[string, string]) string {
	var b strings.Builder
	for name, value := range pairs {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
	}
	return b.String()
}

// ParseHeader splits a request Cookie header value into pairs, keeping order
// and duplicates.
func ParseHeader(header string) []Pair {
	var out []Pair
	for part := range strings.SplitSeq(header, ";") {
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, Pair{Name: name, Value: unquote(strings.TrimSpace(value))})
	}
	return out
}

// Pairs adapts a slice of pairs to the sequence form used by FormatHeader.
func Pairs(pairs []Pair) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, p := range pairs {
			if !yield(p.Name, p.Value) {
				return
			}
		}
	}
}

func parseCookieDate(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range cookieDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseSameSite(v string) SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return SameSiteStrict
	case "lax":
		return SameSiteLax
	case "none":
		return SameSiteNone
	default:
		return SameSiteUnset
	}
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
