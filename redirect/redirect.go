// Package redirect decides whether, where and how a 3xx response is followed.
//
// The engine is pure: it reads a response summary and a Policy and returns an
// Intent. Sending the follow-up request is left to the caller.
//
//	intent, err := redirect.Evaluate(redirect.Input{
//	    URL:        req.URL,
//	    Method:     req.Method,
//	    StatusCode: resp.StatusCode,
//	    Location:   resp.Header.Get("Location"),
//	}, redirect.PolicyFrom(settings))
//
//	if intent != nil && intent.Follow {
//	    // issue the next request to intent.URL
//	}
package redirect

import (
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/kroma-labs/fluentrest-go/settings"
)

// ErrCircular is returned by CheckCircular when a target was already visited.
var ErrCircular = errors.New("redirect: circular redirects detected")

// State is the position of a redirect in its decision lifecycle.
type State int

const (
	// NotApplicable means the response is not a followable redirect.
	NotApplicable State = iota
	// Blocked means the policy refuses to follow. Terminal.
	Blocked
	// PendingApproval means the policy allows following and hooks may still
	// veto or rewrite the intent.
	PendingApproval
	// Followed means the follow-up request is going out.
	Followed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotApplicable:
		return "not_applicable"
	case Blocked:
		return "blocked"
	case PendingApproval:
		return "pending_approval"
	case Followed:
		return "followed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy is the redirect configuration resolved for one call.
type Policy struct {
	Enabled                    bool
	AllowSecureToInsecure      bool
	ForwardHeaders             bool
	ForwardAuthorizationHeader bool
	MaxAutoRedirects           int
}

// PolicyFrom resolves the redirect policy from a settings node.
func PolicyFrom(s *settings.Settings) Policy {
	r := s.Redirects()
	return Policy{
		Enabled:                    r.Enabled(),
		AllowSecureToInsecure:      r.AllowSecureToInsecure(),
		ForwardHeaders:             r.ForwardHeaders(),
		ForwardAuthorizationHeader: r.ForwardAuthorizationHeader(),
		MaxAutoRedirects:           r.MaxAutoRedirects(),
	}
}

// Input summarizes the call whose response may be a redirect.
type Input struct {
	// URL is the request URL of the call that produced the response.
	URL *url.URL
	// Method is the request method of that call.
	Method string
	// StatusCode is the response status.
	StatusCode int
	// Location is the raw Location response header.
	Location string
	// PreviousCount is the redirect count of the call, 0 for the first hop.
	PreviousCount int
}

// Intent describes the redirect a response asks for.
//
// Hooks may change URL, Follow and ChangeVerbToGet while the intent is
// PendingApproval.
type Intent struct {
	URL             *url.URL
	Count           int
	Follow          bool
	ChangeVerbToGet bool
	State           State
	// Reason explains a Blocked state.
	Reason string
}

// Veto blocks a pending intent.
func (i *Intent) Veto(reason string) {
	i.Follow = false
	i.State = Blocked
	i.Reason = reason
}

// Approve marks the intent as followed if it still wants to be.
// It reports whether the follow-up request should be sent.
func (i *Intent) Approve() bool {
	if i.State != PendingApproval {
		return false
	}
	if !i.Follow {
		if i.Reason == "" {
			i.Reason = "follow cleared by hook"
		}
		i.State = Blocked
		return false
	}
	i.State = Followed
	return true
}

// followable lists the statuses that carry a followable Location.
var followable = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Evaluate applies the policy to a response.
//
// It returns nil when the response is NotApplicable or redirects are disabled.
// Otherwise the intent is either Blocked (with a Reason) or PendingApproval.
func Evaluate(in Input, p Policy) (*Intent, error) {
	if !p.Enabled || !followable[in.StatusCode] || in.Location == "" {
		return nil, nil
	}

	target, err := ResolveLocation(in.URL, in.Location)
	if err != nil {
		return nil, err
	}

	intent := &Intent{
		URL:   target,
		Count: in.PreviousCount + 1,
		State: PendingApproval,
	}

	switch {
	case intent.Count > p.MaxAutoRedirects:
		intent.Reason = fmt.Sprintf("exceeded %d redirects", p.MaxAutoRedirects)
		intent.State = Blocked
	case isSecure(in.URL) && !isSecure(target) && !p.AllowSecureToInsecure:
		intent.Reason = "secure to insecure redirect not allowed"
		intent.State = Blocked
	default:
		intent.Follow = true
		intent.ChangeVerbToGet = ChangesVerb(in.StatusCode, in.Method)
	}
	return intent, nil
}

// ResolveLocation resolves a Location header against the current URL.
//
// Absolute URLs are used as-is, "//host" inherits the scheme, "/path" keeps the
// authority, anything else is relative to the current directory. A target
// without a fragment inherits the current fragment; the query is never
// inherited.
func ResolveLocation(current *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return nil, fmt.Errorf("redirect: parse location %q: %w", location, err)
	}

	target := ref
	if current != nil {
		target = current.ResolveReference(ref)
	}
	if target.Fragment == "" && current != nil && current.Fragment != "" {
		target.Fragment = current.Fragment
		target.RawFragment = current.RawFragment
	}
	return target, nil
}

// ChangesVerb reports whether the follow-up request becomes a bodiless GET.
// 303 always does; 301 and 302 only for POST; 307 and 308 never do.
func ChangesVerb(status int, method string) bool {
	switch status {
	case http.StatusSeeOther:
		return true
	case http.StatusMovedPermanently, http.StatusFound:
		return strings.EqualFold(method, http.MethodPost)
	default:
		return false
	}
}

// ForwardHeaders returns the headers to carry onto the follow-up request.
//
// Cookie is never forwarded since the jar recomputes it. Authorization needs
// ForwardAuthorizationHeader. Transfer-Encoding needs ForwardHeaders and a
// preserved verb. Everything else needs ForwardHeaders.
func ForwardHeaders(h http.Header, p Policy, changedToGet bool) http.Header {
	out := make(http.Header)
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Cookie":
			continue
		case "Authorization":
			if !p.ForwardAuthorizationHeader {
				continue
			}
		case "Transfer-Encoding":
			if !p.ForwardHeaders || changedToGet {
				continue
			}
		default:
			if !p.ForwardHeaders {
				continue
			}
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// CheckCircular fails with ErrCircular when target equals any visited URL.
func CheckCircular(target *url.URL, visited iter.Seq[*url.URL]) error {
	want := target.String()
	for u := range visited {
		if u != nil && u.String() == want {
			return fmt.Errorf("%w: %s", ErrCircular, want)
		}
	}
	return nil
}

func isSecure(u *url.URL) bool {
	if u == nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	default:
		return false
	}
}
