// Package httpclient is a fluent HTTP client with a layered settings
// cascade, cookie jars, policy-driven redirects and OpenTelemetry
// instrumentation.
//
// # Quick Start
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithServiceName("billing"),
//	)
//
//	var user User
//	_, err := client.Request("users", "{id}").
//	    PathParam("id", "42").
//	    Decode(&user).
//	    Get(ctx)
//
// Requests can also start from a Runtime, which caches one client per host:
//
//	resp, err := httpclient.Default().Request("https://api.example.com/ping").Get(ctx)
//
// # Settings
//
// Every request resolves its settings through request -> client -> global,
// with the test layer of an active HTTPTest checked first. Timeout,
// AllowedHTTPStatusRange, the Redirects group, the serializers, the hooks and
// the TransportFactory all live there:
//
//	client.Settings().SetTimeout(10 * time.Second)
//	client.Request("report").WithTimeout(0).Get(ctx) // no timeout for this one
//
// # Errors
//
// A failed call returns a *CallError matching one of ErrCallFailed,
// ErrTimeout, ErrCancelled, ErrCircularRedirect, ErrParsing or ErrTransport.
// A status >= 400 fails unless AllowHTTPStatus matches it:
//
//	resp, err := client.Request("users", id).AllowHTTPStatus("404").Get(ctx)
//
// An OnError hook may set Call.ErrHandled to get the response back instead.
//
// # Redirects
//
// 301, 302, 303, 307 and 308 responses with a Location are followed up to
// MaxAutoRedirects. 303, and 301/302 after a POST, become a bodiless GET.
// HTTPS to HTTP is blocked unless allowed. An OnRedirect hook can veto or
// rewrite each hop through Call.Redirect. A chain that returns to a visited
// URL fails with ErrCircularRedirect.
//
// # Cookies
//
// Attach a cookie.Jar to a request, or use a CookieSession, and Set-Cookie
// headers of every hop are stored and replayed:
//
//	session := httpclient.NewCookieSession(client)
//	session.Request("login").BodyForm(creds).Post(ctx)
//	session.Request("me").Get(ctx)
//
// # Resilience
//
// Retries (cenkalti/backoff), a circuit breaker (sony/gobreaker) and a token
// bucket (x/time/rate) are opt-in transport layers:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	    httpclient.WithCircuitBreaker(httpclient.DefaultBreakerConfig()),
//	    httpclient.WithRateLimit(httpclient.DefaultRateLimitConfig()),
//	)
//
// # Observability
//
// Each transport attempt gets a client span and these instruments:
//   - http.client.request.duration
//   - http.client.active_requests
//   - http.client.request.errors
//   - http.client.call.failures
//   - http.client.redirects
//   - http.client.cookies.rejected
//   - http.client.retry.attempts
//
// # Testing
//
// HTTPTest swaps every transport of a runtime for a MockTransport and
// records the calls:
//
//	ht := httpclient.NewHTTPTest(rt)
//	defer ht.Close()
//	ht.RespondWith(http.StatusOK, `{"id":1}`, nil)
//	// exercise code
//	ht.ShouldHaveCalled("https://api.example.com/*").WithVerb("GET").Assert(t)
package httpclient
