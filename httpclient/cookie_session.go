package httpclient

import (
	"github.com/kroma-labs/fluentrest-go/cookie"
)

// CookieSession is a client plus a jar shared by every request it starts, so
// cookies set by one response are sent with the next request.
//
// Example:
//
//	session := httpclient.NewCookieSession(client)
//	_, err := session.Request("login").BodyForm(creds).Post(ctx)
//	_, err = session.Request("account").Get(ctx) // sends the session cookie
type CookieSession struct {
	client  *Client
	baseURL string
	jar     *cookie.Jar
}

// NewCookieSession starts a session on c with an empty jar.
func NewCookieSession(c *Client, opts ...cookie.JarOption) *CookieSession {
	return newCookieSession(c, c.baseURL, opts...)
}

func newCookieSession(c *Client, baseURL string, opts ...cookie.JarOption) *CookieSession {
	return &CookieSession{
		client:  c,
		baseURL: baseURL,
		jar:     cookie.NewJar(append([]cookie.JarOption{cookie.WithLogger(c.logger)}, opts...)...),
	}
}

// Request starts a request to the session's base URL joined with segments.
func (s *CookieSession) Request(segments ...string) *Request {
	return newRequest(s.client.runtime, s.client).
		URL(combineURL(s.baseURL, segments...)).
		WithCookieJar(s.jar)
}

// Jar returns the session's jar.
func (s *CookieSession) Jar() *cookie.Jar {
	return s.jar
}

// Client returns the session's client.
func (s *CookieSession) Client() *Client {
	return s.client
}

// Close empties the jar.
func (s *CookieSession) Close() {
	s.jar.Clear()
}
