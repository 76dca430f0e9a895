package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kroma-labs/fluentrest-go/cookie"
	"github.com/kroma-labs/fluentrest-go/redirect"
	"github.com/kroma-labs/fluentrest-go/settings"
)

// Request is a fluent description of one HTTP call. It is not safe for
// concurrent use; build one per call.
//
// Start one from a Client or a Runtime:
//
//	var user User
//	resp, err := client.Request("users", "{id}").
//	    PathParam("id", userID).
//	    Header("Accept", "application/json").
//	    WithCookieJar(jar).
//	    Decode(&user).
//	    Get(ctx)
//
// Settings made on the request override the client, which overrides the
// runtime's global settings.
type Request struct {
	runtime  *Runtime
	client   *Client
	settings *settings.Settings

	rawURL     string
	pathParams map[string]string
	query      url.Values
	headers    http.Header

	// cookies are the explicitly set request cookies. The jar is merged in at
	// send time: it overrides cookies set before it was attached and is
	// overridden by cookies set after.
	cookies []requestCookie
	jar     *cookie.Jar

	bodyKind       bodyKind
	body           []byte
	bodyValue      any
	bodySerializer *settings.Key[Serializer]
	parts          []multipartPart
	contentType    string

	decodeTarget      any
	decodeErrorTarget any

	redirectedFrom *Call
}

type bodyKind int

const (
	noBody bodyKind = iota
	rawBody
	serializedBody
	multipartBody
)

type requestCookie struct {
	cookie.Pair
	afterJar bool
}

func newRequest(rt *Runtime, c *Client) *Request {
	if rt == nil {
		rt = Default()
	}
	parent := rt.Settings()
	if c != nil {
		parent = c.settings
	}
	return &Request{
		runtime:  rt,
		client:   c,
		settings: parent.Child(),
		headers:  make(http.Header),
	}
}

// Settings returns the request's settings node.
func (r *Request) Settings() *settings.Settings {
	return r.settings
}

// Client returns the client bound to the request, or nil until the first
// send of a runtime-level request.
func (r *Request) Client() *Client {
	return r.client
}

// WithClient binds the request to c. Its settings then inherit from c.
func (r *Request) WithClient(c *Client) *Request {
	r.client = c
	_ = r.settings.SetDefaults(c.settings)
	return r
}

// =============================================================================
// URL
// =============================================================================

// URL replaces the request URL.
func (r *Request) URL(rawURL string) *Request {
	r.rawURL = rawURL
	return r
}

// Path appends segments to the URL path. A segment of the form {name} is
// filled by PathParam.
func (r *Request) Path(segments ...string) *Request {
	r.rawURL = joinPath(r.rawURL, segments...)
	return r
}

// PathParam replaces {key} in the URL path with the escaped value.
func (r *Request) PathParam(key, value string) *Request {
	if r.pathParams == nil {
		r.pathParams = make(map[string]string)
	}
	r.pathParams[key] = value
	return r
}

// Query adds a query parameter. Repeated keys are kept.
func (r *Request) Query(key string, value any) *Request {
	if r.query == nil {
		r.query = make(url.Values)
	}
	r.query.Add(key, fmt.Sprint(value))
	return r
}

// Queries adds several query parameters.
func (r *Request) Queries(params map[string]string) *Request {
	for k, v := range params {
		r.Query(k, v)
	}
	return r
}

// =============================================================================
// Headers and cookies
// =============================================================================

// Header sets a request header, replacing client-level values of the same
// name. Setting "Cookie" replaces the explicit request cookies.
func (r *Request) Header(key, value string) *Request {
	if http.CanonicalHeaderKey(key) == "Cookie" {
		r.cookies = r.cookies[:0]
		for _, p := range cookie.ParseHeader(value) {
			r.cookies = append(r.cookies, requestCookie{Pair: p, afterJar: r.jar != nil})
		}
		return r
	}
	r.headers.Set(key, value)
	return r
}

// Headers sets several headers.
func (r *Request) Headers(headers map[string]string) *Request {
	for k, v := range headers {
		r.Header(k, v)
	}
	return r
}

// RemoveHeader drops a request-level header. Client-level values of the same
// name are sent again.
func (r *Request) RemoveHeader(key string) *Request {
	if http.CanonicalHeaderKey(key) == "Cookie" {
		r.cookies = nil
		return r
	}
	r.headers.Del(key)
	return r
}

// WithCookie sets a request cookie, replacing any earlier value with the same
// name. If a jar is attached, the value wins over the jar's.
func (r *Request) WithCookie(name, value string) *Request {
	afterJar := r.jar != nil
	for i := range r.cookies {
		if r.cookies[i].Name == name {
			r.cookies[i].Value = value
			r.cookies[i].afterJar = afterJar
			r.cookies = removeCookiesAfter(r.cookies, i, name)
			return r
		}
	}
	r.cookies = append(r.cookies, requestCookie{Pair: cookie.Pair{Name: name, Value: value}, afterJar: afterJar})
	return r
}

// WithCookies sets several request cookies.
func (r *Request) WithCookies(cookies map[string]string) *Request {
	for name, value := range cookies {
		r.WithCookie(name, value)
	}
	return r
}

// WithCookieJar attaches jar. Cookies matching the request URL are sent and
// Set-Cookie headers of every response in the call, redirects included,
// are stored in it.
func (r *Request) WithCookieJar(jar *cookie.Jar) *Request {
	r.jar = jar
	return r
}

// DetachCookieJar stops using the jar. Explicit cookies are kept.
func (r *Request) DetachCookieJar() *Request {
	r.jar = nil
	return r
}

// CookieJar returns the attached jar, or nil.
func (r *Request) CookieJar() *cookie.Jar {
	return r.jar
}

// Cookies returns the cookies that would be sent, in header order.
func (r *Request) Cookies() []cookie.Pair {
	u, err := r.resolvedURL()
	if err != nil {
		return nil
	}
	return r.cookiePairs(u)
}

// =============================================================================
// Settings shortcuts
// =============================================================================

// WithTimeout overrides the timeout of this request. 0 disables it.
func (r *Request) WithTimeout(d time.Duration) *Request {
	r.settings.SetTimeout(d)
	return r
}

// AllowHTTPStatus sets the allowed status pattern, e.g. "404,5xx".
// See ParseStatusRange.
func (r *Request) AllowHTTPStatus(pattern string) *Request {
	r.settings.SetAllowedHTTPStatusRange(pattern)
	return r
}

// AllowHTTPStatusCodes allows exact status codes.
func (r *Request) AllowHTTPStatusCodes(codes ...int) *Request {
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = strconv.Itoa(code)
	}
	return r.AllowHTTPStatus(strings.Join(parts, ","))
}

// AllowAnyHTTPStatus never fails on status.
func (r *Request) AllowAnyHTTPStatus() *Request {
	return r.AllowHTTPStatus("*")
}

// WithAutoRedirect toggles automatic redirects.
func (r *Request) WithAutoRedirect(enabled bool) *Request {
	r.settings.Redirects().SetEnabled(enabled)
	return r
}

// WithCompletionMode selects Buffered or Streamed completion.
func (r *Request) WithCompletionMode(m CompletionMode) *Request {
	settings.Set(r.settings, CompletionModeKey, m)
	return r
}

// Configure applies fn to the request's settings node.
func (r *Request) Configure(fn func(s *settings.Settings)) *Request {
	fn(r.settings)
	return r
}

// BeforeCall sets the BeforeCall hook of this request.
func (r *Request) BeforeCall(h Hook) *Request {
	settings.Set(r.settings, BeforeCallKey, h)
	return r
}

// AfterCall sets the AfterCall hook of this request.
func (r *Request) AfterCall(h Hook) *Request {
	settings.Set(r.settings, AfterCallKey, h)
	return r
}

// OnError sets the OnError hook of this request.
func (r *Request) OnError(h Hook) *Request {
	settings.Set(r.settings, OnErrorKey, h)
	return r
}

// OnRedirect sets the OnRedirect hook of this request.
func (r *Request) OnRedirect(h Hook) *Request {
	settings.Set(r.settings, OnRedirectKey, h)
	return r
}

// =============================================================================
// Body and decoding
// =============================================================================

// Body sends raw bytes with the given content type.
func (r *Request) Body(data []byte, contentType string) *Request {
	r.resetBodyFor(rawBody)
	r.body = data
	r.contentType = contentType
	return r
}

// BodyString sends s as text/plain.
func (r *Request) BodyString(s string) *Request {
	return r.Body([]byte(s), "text/plain; charset=utf-8")
}

// BodyJSON sends v encoded by the JsonSerializer setting.
func (r *Request) BodyJSON(v any) *Request {
	r.resetBodyFor(serializedBody)
	r.bodyValue = v
	r.bodySerializer = &JSONSerializerKey
	return r
}

// BodyForm sends v URL-encoded by the UrlEncodedSerializer setting. v may be
// url.Values, a map or a flat struct.
func (r *Request) BodyForm(v any) *Request {
	r.resetBodyFor(serializedBody)
	r.bodyValue = v
	r.bodySerializer = &FormSerializerKey
	return r
}

// Decode deserializes a successful response body into v.
// A failure is reported as ErrParsing.
func (r *Request) Decode(v any) *Request {
	r.decodeTarget = v
	return r
}

// DecodeError deserializes the body of a failed (ErrCallFailed) response into
// v, best effort.
func (r *Request) DecodeError(v any) *Request {
	r.decodeErrorTarget = v
	return r
}

// =============================================================================
// Verbs
// =============================================================================

// Get sends a GET request.
func (r *Request) Get(ctx context.Context) (*Response, error) {
	return r.Send(ctx, http.MethodGet)
}

// Post sends a POST request.
func (r *Request) Post(ctx context.Context) (*Response, error) {
	return r.Send(ctx, http.MethodPost)
}

// Put sends a PUT request.
func (r *Request) Put(ctx context.Context) (*Response, error) {
	return r.Send(ctx, http.MethodPut)
}

// Patch sends a PATCH request.
func (r *Request) Patch(ctx context.Context) (*Response, error) {
	return r.Send(ctx, http.MethodPatch)
}

// Delete sends a DELETE request.
func (r *Request) Delete(ctx context.Context) (*Response, error) {
	return r.Send(ctx, http.MethodDelete)
}

// Head sends a HEAD request.
func (r *Request) Head(ctx context.Context) (*Response, error) {
	return r.Send(ctx, http.MethodHead)
}

// Options sends an OPTIONS request.
func (r *Request) Options(ctx context.Context) (*Response, error) {
	return r.Send(ctx, http.MethodOptions)
}

// Send performs the call with the given method. Redirects are followed per
// the Redirects settings; the response of the last hop is returned.
func (r *Request) Send(ctx context.Context, method string) (*Response, error) {
	call, err := r.newCall(ctx, method)
	if err != nil {
		return nil, err
	}
	return call.client.doCall(call)
}

// =============================================================================
// Internals
// =============================================================================

// newCall resolves the client, encodes the body and builds the HTTP request.
func (r *Request) newCall(ctx context.Context, method string) (*Call, error) {
	u, err := r.resolvedURL()
	if err != nil {
		return nil, &CallError{Kind: ErrTransport, Err: err}
	}

	if r.client == nil {
		r.WithClient(r.runtime.clientFor(u))
	}

	call := newCall(ctx, r, method)

	body, contentType, err := r.encodeBody()
	if err != nil {
		return nil, &CallError{Kind: ErrTransport, Call: call, Err: err}
	}
	call.RequestBody = body

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, &CallError{Kind: ErrTransport, Call: call, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	call.HTTPRequest = req

	return call, nil
}

// resolvedURL returns the URL with path params and query applied.
func (r *Request) resolvedURL() (*url.URL, error) {
	raw := r.rawURL
	for k, v := range r.pathParams {
		raw = strings.ReplaceAll(raw, "{"+k+"}", url.PathEscape(v))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse url %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("httpclient: url %q is not absolute", raw)
	}

	if len(r.query) > 0 {
		q := u.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// syncHTTPRequest copies the request state onto call.HTTPRequest. It runs
// after BeforeCall, which may have changed the URL, headers or cookies.
func (r *Request) syncHTTPRequest(call *Call) error {
	u, err := r.resolvedURL()
	if err != nil {
		return err
	}

	req := call.HTTPRequest
	req.URL = u
	req.Host = u.Host

	for k, vs := range r.effectiveHeaders(call.client) {
		req.Header[k] = append([]string(nil), vs...)
	}

	if pairs := r.cookiePairs(u); len(pairs) > 0 {
		req.Header.Set("Cookie", cookie.FormatHeader(cookie.Pairs(pairs)))
	} else {
		req.Header.Del("Cookie")
	}
	return nil
}

// effectiveHeaders merges a snapshot of the client headers with the request
// headers. Request values win, names compared case-insensitively.
func (r *Request) effectiveHeaders(c *Client) http.Header {
	out := make(http.Header, len(r.headers))
	if c != nil {
		for k, vs := range c.headerSnapshot() {
			out[http.CanonicalHeaderKey(k)] = vs
		}
	}
	for k, vs := range r.headers {
		out[http.CanonicalHeaderKey(k)] = vs
	}
	delete(out, "Cookie")
	return out
}

// cookiePairs merges explicit cookies with the jar's cookies for u.
func (r *Request) cookiePairs(u *url.URL) []cookie.Pair {
	var out []cookie.Pair
	for _, c := range r.cookies {
		if !c.afterJar {
			out = append(out, c.Pair)
		}
	}

	if r.jar != nil {
		var names []string
		groups := make(map[string][]string)
		for name, value := range r.jar.MatchesRequest(u) {
			if _, seen := groups[name]; !seen {
				names = append(names, name)
			}
			groups[name] = append(groups[name], value)
		}
		for _, name := range names {
			out = replaceCookieGroup(out, name, groups[name])
		}
	}

	for _, c := range r.cookies {
		if c.afterJar {
			out = replaceCookieGroup(out, c.Name, []string{c.Value})
		}
	}
	return out
}

// replaceCookieGroup removes every cookie named name and puts values where
// the first one was, or at the end.
func replaceCookieGroup(pairs []cookie.Pair, name string, values []string) []cookie.Pair {
	at := -1
	kept := pairs[:0:0]
	for _, p := range pairs {
		if p.Name == name {
			if at < 0 {
				at = len(kept)
			}
			continue
		}
		kept = append(kept, p)
	}
	if at < 0 {
		at = len(kept)
	}

	group := make([]cookie.Pair, len(values))
	for i, v := range values {
		group[i] = cookie.Pair{Name: name, Value: v}
	}

	out := make([]cookie.Pair, 0, len(kept)+len(group))
	out = append(out, kept[:at]...)
	out = append(out, group...)
	return append(out, kept[at:]...)
}

func removeCookiesAfter(cookies []requestCookie, i int, name string) []requestCookie {
	out := cookies[:i+1]
	for _, c := range cookies[i+1:] {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

// resetBodyFor clears the body unless it is already of kind k, so mixing
// FormField and File keeps both while Body replaces everything.
func (r *Request) resetBodyFor(k bodyKind) {
	if r.bodyKind == k && k == multipartBody {
		return
	}
	r.bodyKind = k
	r.body = nil
	r.bodyValue = nil
	r.bodySerializer = nil
	r.parts = nil
	r.contentType = ""
}

// encodeBody returns the body bytes and their content type.
func (r *Request) encodeBody() ([]byte, string, error) {
	switch r.bodyKind {
	case rawBody:
		return r.body, r.contentType, nil
	case multipartBody:
		data, contentType, err := encodeMultipart(r.parts)
		if err != nil {
			return nil, "", fmt.Errorf("httpclient: encode multipart body: %w", err)
		}
		return data, contentType, nil
	case serializedBody:
	default:
		return nil, "", nil
	}

	ser := settings.Get(r.settings, *r.bodySerializer)
	if ser == nil {
		return nil, "", fmt.Errorf("httpclient: no serializer configured for %s", r.bodySerializer.Name())
	}
	data, err := ser.Serialize(r.bodyValue)
	if err != nil {
		return nil, "", fmt.Errorf("httpclient: serialize body: %w", err)
	}
	return data, ser.ContentType(), nil
}

// statusAllowed reports whether code counts as success.
func (r *Request) statusAllowed(code int) (bool, error) {
	if code < 400 {
		return true, nil
	}
	pattern := r.settings.AllowedHTTPStatusRange()
	if pattern == "" {
		return false, nil
	}
	return IsStatusAllowed(pattern, code)
}

// redirectChild builds the request for the next hop of call. Only the
// request's own headers pass through the forwarding rules; client headers are
// merged again when the hop is sent.
func (r *Request) redirectChild(call *Call) (*Request, string) {
	intent := call.Redirect
	policy := redirect.PolicyFrom(r.settings)

	child := &Request{
		runtime:           r.runtime,
		client:            call.client,
		settings:          r.settings.Child(),
		rawURL:            intent.URL.String(),
		headers:           redirect.ForwardHeaders(r.headers, policy, intent.ChangeVerbToGet),
		jar:               r.jar,
		decodeTarget:      r.decodeTarget,
		decodeErrorTarget: r.decodeErrorTarget,
		redirectedFrom:    call,
	}

	method := call.HTTPRequest.Method
	if intent.ChangeVerbToGet {
		method = http.MethodGet
		child.headers.Del("Content-Type")
		return child, method
	}

	child.bodyKind = rawBody
	child.body = call.RequestBody
	child.contentType = call.HTTPRequest.Header.Get("Content-Type")
	return child, method
}
