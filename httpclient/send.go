package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/fluentrest-go/cookie"
	"github.com/kroma-labs/fluentrest-go/redirect"
	"github.com/kroma-labs/fluentrest-go/settings"
)

// errTimeoutCause tells the call's own timeout apart from the caller's
// context ending.
var errTimeoutCause = errors.New("httpclient: call timeout elapsed")

// doCall runs the lifecycle of one call: BeforeCall, the exchange, AfterCall.
func (c *Client) doCall(call *Call) (*Response, error) {
	call.Response = nil
	call.Redirect = nil
	call.Err = nil
	call.ErrHandled = false
	call.Ended = time.Time{}

	s := call.Request.settings
	if err := runHook(call.ctx, s, BeforeCallKey, call); err != nil {
		return nil, err
	}

	resp, err := c.execute(call)
	call.Ended = time.Now()

	if herr := runHook(call.ctx, s, AfterCallKey, call); herr != nil {
		return nil, herr
	}
	return resp, err
}

// execute sends the call and turns the outcome into a response or a
// *CallError. A followed redirect returns the result of the next hop.
func (c *Client) execute(call *Call) (*Response, error) {
	r := call.Request
	if err := r.syncHTTPRequest(call); err != nil {
		return c.handleError(call, &CallError{Kind: ErrTransport, Call: call, Err: err})
	}

	call.Started = time.Now()
	logRequest(c.logger, call)

	ctx, cancel := c.callContext(call)
	released := false
	defer func() {
		if !released {
			cancel()
		}
	}()

	resp, err := c.sendWithRetry(withCall(ctx, call), call)
	if err != nil {
		return c.handleError(call, sendFailure(ctx, call, err))
	}

	call.Response = newResponse(resp, call)
	c.absorbCookies(call)

	if settings.Get(r.settings, CompletionModeKey) == Streamed {
		resp.Body = newReleasingBody(resp.Body, func(int64) { cancel() })
		released = true
	} else if err := call.Response.buffer(); err != nil {
		return c.handleError(call, sendFailure(ctx, call, err))
	}
	logResponse(c.logger, call)

	if next, done, err := c.processRedirect(call); done {
		return next, err
	}

	allowed, err := r.statusAllowed(resp.StatusCode)
	if err != nil {
		drainAndClose(resp)
		return c.handleError(call, &CallError{Kind: ErrTransport, Call: call, Err: err})
	}
	if !allowed {
		// Failed calls always carry their body, streamed or not.
		_ = call.Response.buffer()
		if target := r.decodeErrorTarget; target != nil {
			_ = call.Response.Decode(target)
		}
		return c.handleError(call, &CallError{Kind: ErrCallFailed, Call: call})
	}

	if target := r.decodeTarget; target != nil && call.Response.IsSuccess() {
		if err := call.Response.Decode(target); err != nil {
			format := "JSON"
			if ser := call.Response.serializer(); ser != nil {
				format = ser.Name()
			}
			return c.handleError(call, &CallError{Kind: ErrParsing, Call: call, Err: err, Format: format})
		}
	}
	return call.Response, nil
}

// attempt sends the HTTP request once through the transport chain.
func (c *Client) attempt(ctx context.Context, call *Call) (*http.Response, error) {
	req := call.HTTPRequest.Clone(ctx)

	if body := call.RequestBody; len(body) > 0 {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.ContentLength = int64(len(body))
	} else {
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
	}
	return c.httpClient.Do(req)
}

// callContext derives the context of one exchange from the caller's context
// and the Timeout setting.
func (c *Client) callContext(call *Call) (context.Context, context.CancelFunc) {
	d := call.Request.settings.Timeout()
	if d <= 0 {
		return context.WithCancel(call.ctx)
	}
	return context.WithTimeoutCause(call.ctx, d, errTimeoutCause)
}

// sendFailure classifies an error raised while sending or reading.
func sendFailure(ctx context.Context, call *Call, err error) *CallError {
	switch {
	case errors.Is(context.Cause(ctx), errTimeoutCause):
		return &CallError{Kind: ErrTimeout, Call: call, Err: err}
	case call.ctx.Err() != nil:
		return &CallError{Kind: ErrCancelled, Call: call, Err: err}
	default:
		return &CallError{Kind: ErrTransport, Call: call, Err: err}
	}
}

// handleError records the failure and gives the OnError hook a chance to
// handle it.
func (c *Client) handleError(call *Call, cerr *CallError) (*Response, error) {
	call.Err = cerr
	c.config.Metrics.recordCallFailure(call.ctx, errorKindName(cerr.Kind), c.config.baseAttributes())
	c.logger.Debug().
		Str("call_id", call.ID.String()).
		Str("call", call.String()).
		Str("kind", errorKindName(cerr.Kind)).
		Err(cerr.Err).
		Msg("call failed")

	if err := runHook(call.ctx, call.Request.settings, OnErrorKey, call); err != nil {
		return nil, err
	}
	if call.ErrHandled {
		return call.Response, nil
	}
	return nil, cerr
}

// absorbCookies parses the response's Set-Cookie headers and stores them in
// the request's jar, if any.
func (c *Client) absorbCookies(call *Call) {
	resp := call.Response
	headers := resp.Header.Values("Set-Cookie")
	if len(headers) == 0 {
		return
	}

	origin := call.URL().String()
	jar := call.Request.jar
	for _, header := range headers {
		ck, err := cookie.Parse(origin, header)
		if err != nil {
			c.rejectCookie(call, header, err.Error())
			continue
		}
		resp.cookies = append(resp.cookies, ck)

		if jar == nil {
			continue
		}
		if ok, _ := jar.TryAddOrReplace(ck); !ok {
			// Expired cookies are refused too; they only evict.
			if valid, reason := ck.Validate(); !valid {
				c.rejectCookie(call, header, reason)
			}
		}
	}
}

func (c *Client) rejectCookie(call *Call, header, reason string) {
	logCookieRejected(c.logger, call, header, reason)
	c.config.Metrics.recordCookieRejected(call.ctx, c.config.baseAttributes())

	span := trace.SpanFromContext(call.ctx)
	if span.IsRecording() {
		span.AddEvent("cookie.rejected", trace.WithAttributes(
			attribute.String("cookie.reason", reason),
		))
	}
}

// processRedirect evaluates the response as a redirect. done reports that
// the call's outcome is decided: next and err are then the final result.
func (c *Client) processRedirect(call *Call) (next *Response, done bool, err error) {
	r := call.Request
	resp := call.Response

	prev := 0
	if from := call.RedirectedFrom; from != nil && from.Redirect != nil {
		prev = from.Redirect.Count
	}

	intent, err := redirect.Evaluate(redirect.Input{
		URL:           call.URL(),
		Method:        call.method,
		StatusCode:    resp.StatusCode,
		Location:      resp.Header.Get("Location"),
		PreviousCount: prev,
	}, redirect.PolicyFrom(r.settings))
	if err != nil {
		next, err = c.handleError(call, &CallError{Kind: ErrTransport, Call: call, Err: err})
		return next, true, err
	}
	if intent == nil {
		return nil, false, nil
	}

	call.Redirect = intent
	if intent.State == redirect.Blocked {
		logRedirect(c.logger, call)
		return nil, false, nil
	}

	if err := runHook(call.ctx, r.settings, OnRedirectKey, call); err != nil {
		return nil, true, err
	}
	if !intent.Approve() {
		logRedirect(c.logger, call)
		return nil, false, nil
	}

	if err := redirect.CheckCircular(intent.URL, call.visited()); err != nil {
		next, err = c.handleError(call, &CallError{Kind: ErrCircularRedirect, Call: call, Err: err})
		return next, true, err
	}

	child, method := r.redirectChild(call)
	drainAndClose(resp.Response)

	c.config.Metrics.recordRedirect(call.ctx, resp.StatusCode, c.config.baseAttributes())
	if span := trace.SpanFromContext(call.ctx); span.IsRecording() {
		span.AddEvent("redirect", trace.WithAttributes(
			attribute.String("http.response.status_code", strconv.Itoa(resp.StatusCode)),
			attribute.String("url.full", redactedURL(intent.URL)),
			attribute.Int("fluentrest.redirect.count", intent.Count),
		))
	}
	logRedirect(c.logger, call)

	next, err = child.Send(call.ctx, method)
	return next, true, err
}

func errorKindName(kind error) string {
	switch kind {
	case ErrCallFailed:
		return "call_failed"
	case ErrTimeout:
		return "timeout"
	case ErrCancelled:
		return "canceled"
	case ErrCircularRedirect:
		return "circular_redirect"
	case ErrParsing:
		return "parsing"
	default:
		return "transport"
	}
}
