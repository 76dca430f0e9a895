// Package cookie provides an RFC 6265 cookie store for HTTP clients.
//
// # Cookies
//
// A Cookie remembers the URL it was received from. Its validity, default path
// and request matching are all computed against that origin:
//
//	c, err := cookie.New("session", "abc", "https://www.example.com/app/login",
//	    cookie.WithDomain("example.com"),
//	    cookie.WithSecure(true),
//	)
//
// Cookies can be modified until they are added to a Jar. After that every
// setter returns ErrLocked.
//
// # Jar
//
// A Jar is safe for concurrent use by many in-flight requests:
//
//	jar := cookie.NewJar()
//	if ok, reason := jar.TryAddOrReplace(c); !ok {
//	    log.Printf("rejected: %s", reason)
//	}
//
//	for name, value := range jar.MatchesRequest(u) {
//	    fmt.Println(name, value)
//	}
//
// Matching cookies are ordered by descending path length, then by the time
// they were received, which is also the order they appear on the wire.
//
// A cookie that arrives already expired (Max-Age=0 or an Expires in the past)
// is never stored, but it removes any stored cookie with the same name and
// path. Servers rely on this to log users out.
package cookie
