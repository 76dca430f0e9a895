package httpclient

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/kroma-labs/fluentrest-go/redirect"
)

// Call is the record of one request/response exchange. Redirect hops are
// separate calls linked through RedirectedFrom.
//
// Hooks receive the call and may change it: BeforeCall can edit Request,
// OnError can set ErrHandled, OnRedirect can edit Redirect.
type Call struct {
	// ID identifies the call in logs and traces.
	ID uuid.UUID

	// Request is the fluent request. Changes made in BeforeCall are sent.
	Request *Request

	// HTTPRequest is the request handed to the transport.
	HTTPRequest *http.Request

	// RequestBody is the encoded request body, nil when there is none.
	RequestBody []byte

	// Response is set once a response is received, even on failure.
	Response *Response

	// RedirectedFrom is the call whose response redirected to this one.
	RedirectedFrom *Call

	// Redirect is set when the response asked for a redirect.
	Redirect *redirect.Intent

	// Err is the failure, if any.
	Err error

	// ErrHandled, set by an OnError hook, returns the response instead of
	// the error.
	ErrHandled bool

	// Started and Ended bound the exchange. Ended is zero until it completes.
	Started time.Time
	Ended   time.Time

	// RetryCount is the number of times the call was sent again, by the retry
	// layer or SendAgain.
	RetryCount int

	client *Client
	ctx    context.Context
	method string
}

func newCall(ctx context.Context, r *Request, method string) *Call {
	return &Call{
		ID:             uuid.New(),
		Request:        r,
		RedirectedFrom: r.redirectedFrom,
		client:         r.client,
		ctx:            ctx,
		method:         method,
	}
}

// Succeeded reports a call that completed without error.
func (c *Call) Succeeded() bool {
	return c.Completed() && c.Err == nil
}

// Completed reports whether the call has ended.
func (c *Call) Completed() bool {
	return !c.Ended.IsZero()
}

// Duration is the elapsed time of the call, up to now when still running.
func (c *Call) Duration() time.Duration {
	if c.Started.IsZero() {
		return 0
	}
	if c.Ended.IsZero() {
		return time.Since(c.Started)
	}
	return c.Ended.Sub(c.Started)
}

// Context returns the caller's context.
func (c *Call) Context() context.Context {
	return c.ctx
}

// Client returns the client that sent the call.
func (c *Call) Client() *Client {
	return c.client
}

// Method returns the HTTP method.
func (c *Call) Method() string {
	return c.method
}

// URL returns the request URL.
func (c *Call) URL() *url.URL {
	if c.HTTPRequest == nil {
		return nil
	}
	return c.HTTPRequest.URL
}

// String renders the call as "VERB URL".
func (c *Call) String() string {
	u := c.URL()
	if u == nil {
		return c.method
	}
	return c.method + " " + u.String()
}

// History yields the call and the calls that redirected to it, latest first.
func (c *Call) History() iter.Seq[*Call] {
	return func(yield func(*Call) bool) {
		for cur := c; cur != nil; cur = cur.RedirectedFrom {
			if !yield(cur) {
				return
			}
		}
	}
}

// Curl renders the request as a cURL command line. Authorization is masked.
func (c *Call) Curl() string {
	if c.HTTPRequest == nil {
		return ""
	}
	return curlCommand(c.HTTPRequest, c.RequestBody)
}

// SendAgain sends the call once more, typically from an OnError hook. When
// the caller's context is already done it returns the current response.
//
// Example - refresh a token once on 401:
//
//	req.OnError(func(ctx context.Context, call *httpclient.Call) error {
//	    if call.Response == nil || call.Response.StatusCode != http.StatusUnauthorized || call.RetryCount > 0 {
//	        return nil
//	    }
//	    call.Request.Header("Authorization", "Bearer "+refresh(ctx))
//	    resp, err := call.SendAgain()
//	    if err == nil {
//	        call.Response = resp
//	        call.ErrHandled = true
//	    }
//	    return nil
//	})
func (c *Call) SendAgain() (*Response, error) {
	if c.ctx.Err() != nil {
		return c.Response, nil
	}
	c.RetryCount++
	return c.client.doCall(c)
}

// visited yields the request URLs of the call and its ancestors.
func (c *Call) visited() iter.Seq[*url.URL] {
	return func(yield func(*url.URL) bool) {
		for cur := range c.History() {
			if !yield(cur.URL()) {
				return
			}
		}
	}
}
