package httpclient

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidStatusRange is returned for a malformed allowed-status pattern.
var ErrInvalidStatusRange = errors.New("httpclient: invalid status range")

// StatusRange is a parsed allowed-status pattern.
//
// The grammar is a comma-separated list of tokens:
//
//	*         any status
//	4xx, 4**  the hundred block 400-499 (x and X are interchangeable)
//	400-404   inclusive range
//	418       exact status
//
// Whitespace around tokens is ignored and empty tokens are skipped.
type StatusRange struct {
	any   bool
	spans []statusSpan
}

type statusSpan struct {
	low, high int
}

// ParseStatusRange parses pattern.
func ParseStatusRange(pattern string) (StatusRange, error) {
	var r StatusRange
	for token := range strings.SplitSeq(pattern, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if token == "*" {
			r.any = true
			continue
		}
		span, err := parseStatusToken(token)
		if err != nil {
			return StatusRange{}, err
		}
		r.spans = append(r.spans, span)
	}
	return r, nil
}

// Contains reports whether code is allowed.
func (r StatusRange) Contains(code int) bool {
	if r.any {
		return true
	}
	for _, s := range r.spans {
		if code >= s.low && code <= s.high {
			return true
		}
	}
	return false
}

// IsStatusAllowed parses pattern and matches code against it.
func IsStatusAllowed(pattern string, code int) (bool, error) {
	r, err := ParseStatusRange(pattern)
	if err != nil {
		return false, err
	}
	return r.Contains(code), nil
}

func parseStatusToken(token string) (statusSpan, error) {
	if len(token) == 3 {
		if rest := strings.ToLower(token[1:]); rest == "xx" || rest == "**" {
			n, err := strconv.Atoi(token[:1])
			if err != nil {
				return statusSpan{}, fmt.Errorf("%w: %q", ErrInvalidStatusRange, token)
			}
			return statusSpan{low: n * 100, high: n*100 + 99}, nil
		}
	}

	if lo, hi, ok := strings.Cut(token, "-"); ok {
		low, errLow := parseStatusCode(lo)
		high, errHigh := parseStatusCode(hi)
		if errLow != nil || errHigh != nil || low > high {
			return statusSpan{}, fmt.Errorf("%w: %q", ErrInvalidStatusRange, token)
		}
		return statusSpan{low: low, high: high}, nil
	}

	code, err := parseStatusCode(token)
	if err != nil {
		return statusSpan{}, fmt.Errorf("%w: %q", ErrInvalidStatusRange, token)
	}
	return statusSpan{low: code, high: code}, nil
}

func parseStatusCode(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("negative or signed status %q", s)
	}
	return n, nil
}
