package httpclient

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/kroma-labs/fluentrest-go/cookie"
	"github.com/kroma-labs/fluentrest-go/settings"
)

// Response wraps http.Response with a cached body, the cookies it set and
// the call that produced it.
//
// Example:
//
//	resp, err := client.Request("users").AllowHTTPStatus("404").Get(ctx)
//	if err != nil {
//	    return err
//	}
//	if resp.StatusCode == http.StatusNotFound {
//	    return ErrNoUsers
//	}
//	var users []User
//	err = resp.Decode(&users)
type Response struct {
	// Response embeds the standard http.Response.
	*http.Response

	call *Call

	// body caches the response body once read.
	body     []byte
	bodyRead bool

	cookies []*cookie.Cookie
}

func newResponse(resp *http.Response, call *Call) *Response {
	return &Response{Response: resp, call: call}
}

// Call returns the call that produced the response.
func (r *Response) Call() *Call {
	return r.call
}

// Body returns the response body. It is read once and cached.
func (r *Response) Body() ([]byte, error) {
	if r.bodyRead {
		return r.body, nil
	}
	if err := r.buffer(); err != nil {
		return nil, err
	}
	return r.body, nil
}

// String returns the response body as a string.
func (r *Response) String() (string, error) {
	body, err := r.Body()
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Decode deserializes the body into v. A form Content-Type uses the
// UrlEncodedSerializer setting, anything else the JsonSerializer.
func (r *Response) Decode(v any) error {
	body, err := r.Body()
	if err != nil {
		return err
	}
	ser := r.serializer()
	if ser == nil {
		return errors.New("httpclient: no serializer configured")
	}
	return ser.Deserialize(body, v)
}

// ParsedCookies returns the cookies set by the response, parsed against the
// request URL. Invalid ones are included; see cookie.Cookie.Validate.
func (r *Response) ParsedCookies() []*cookie.Cookie {
	return r.cookies
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError reports a 4xx or 5xx status.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// buffer reads the whole body and replaces it with an in-memory reader, so
// callers can still read Response.Body afterwards.
func (r *Response) buffer() error {
	if r.bodyRead {
		return nil
	}
	if r.Response.Body == nil || r.Response.Body == http.NoBody {
		r.bodyRead = true
		return nil
	}

	defer r.Response.Body.Close()
	body, err := io.ReadAll(r.Response.Body)
	if err != nil {
		return err
	}

	r.body = body
	r.bodyRead = true
	r.Response.Body = io.NopCloser(bytes.NewReader(body))
	return nil
}

// serializer picks the deserializer from the Content-Type.
func (r *Response) serializer() Serializer {
	s := r.settingsNode()
	if s == nil {
		return JSONSerializer{}
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		return settings.Get(s, FormSerializerKey)
	}
	return settings.Get(s, JSONSerializerKey)
}

func (r *Response) settingsNode() *settings.Settings {
	if r.call == nil || r.call.Request == nil {
		return nil
	}
	return r.call.Request.settings
}
