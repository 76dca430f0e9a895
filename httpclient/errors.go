package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Error kinds. A *CallError matches exactly one of them with errors.Is.
var (
	// ErrCallFailed is a response whose status is neither successful nor allowed.
	ErrCallFailed = errors.New("call failed")

	// ErrTimeout is a call that exceeded its Timeout setting.
	ErrTimeout = errors.New("call timed out")

	// ErrCancelled is a call whose caller context was canceled.
	ErrCancelled = errors.New("call canceled")

	// ErrCircularRedirect is a redirect chain that returns to a visited URL.
	ErrCircularRedirect = errors.New("circular redirects detected")

	// ErrParsing is a response body that could not be deserialized.
	ErrParsing = errors.New("response could not be deserialized")

	// ErrTransport is any other failure raised while sending.
	ErrTransport = errors.New("transport failure")
)

// CallError is the error returned by every failed call.
//
// Example:
//
//	_, err := client.Request("users", "42").Get(ctx)
//
//	var callErr *httpclient.CallError
//	if errors.As(err, &callErr) && callErr.StatusCode() == http.StatusNotFound {
//	    return nil
//	}
//	if errors.Is(err, httpclient.ErrTimeout) {
//	    // retry later
//	}
type CallError struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// Call is the failed call. May be nil when the request never got built.
	Call *Call
	// Err is the underlying cause, if any.
	Err error
	// Format names the serialization format of an ErrParsing failure.
	Format string
}

// Error renders the failure, followed by non-empty request and response bodies.
func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.headline())

	if e.Call == nil {
		return b.String()
	}
	if body := e.Call.RequestBody; len(body) > 0 {
		b.WriteString("\n\nRequest body:\n")
		b.Write(body)
	}
	if resp := e.Call.Response; resp != nil && resp.bodyRead && len(resp.body) > 0 {
		b.WriteString("\n\nResponse body:\n")
		b.Write(resp.body)
	}
	return b.String()
}

func (e *CallError) headline() string {
	if e.Call == nil {
		return "Call failed."
	}

	switch e.Kind {
	case ErrTimeout:
		return fmt.Sprintf("Call timed out: %s", e.Call)
	case ErrCancelled:
		return fmt.Sprintf("Call canceled: %s", e.Call)
	case ErrCircularRedirect:
		return fmt.Sprintf("Circular redirects detected: %s", e.Call)
	case ErrParsing:
		return fmt.Sprintf("Response could not be deserialized to %s: %s", e.Format, e.Call)
	}

	if resp := e.Call.Response; e.Kind == ErrCallFailed && resp != nil {
		return fmt.Sprintf("Call failed with status code %d (%s): %s",
			resp.StatusCode, reasonPhrase(resp.Status, resp.StatusCode), e.Call)
	}
	if e.Err != nil {
		return fmt.Sprintf("Call failed. %s: %s", strings.TrimRight(e.Err.Error(), "."), e.Call)
	}
	return fmt.Sprintf("Call failed: %s", e.Call)
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Is matches the error kind.
func (e *CallError) Is(target error) bool {
	return e.Kind == target
}

// StatusCode returns the response status, or 0 when no response was received.
func (e *CallError) StatusCode() int {
	if e.Call == nil || e.Call.Response == nil {
		return 0
	}
	return e.Call.Response.StatusCode
}

// reasonPhrase extracts the reason from an http.Response Status line.
func reasonPhrase(status string, code int) string {
	reason := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
	if reason != "" {
		return reason
	}
	if text := http.StatusText(code); text != "" {
		return text
	}
	return strconv.Itoa(code)
}
