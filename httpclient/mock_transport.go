package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"

	json "github.com/goccy/go-json"
)

// MockTransport is an http.RoundTripper for tests. Queued responses are
// served first, in order; then the first matching stub; then the default.
//
// Example:
//
//	mock := httpclient.NewMockTransport().
//	    RespondWith(http.StatusFound, "", http.Header{"Location": {"/b"}}).
//	    RespondWith(http.StatusOK, `{"ok":true}`, nil)
//
//	client := httpclient.New(httpclient.WithMockTransport(mock))
type MockTransport struct {
	mu          sync.RWMutex
	queue       []stub
	stubs       []stub
	defaultStub *stub
	requests    []recordedRequest
	requestHook func(*http.Request)

	factoryOnce sync.Once
	factory     *TransportFactory
}

type stub struct {
	matcher func(*http.Request) bool
	respond func(*http.Request) (*http.Response, error)
}

type recordedRequest struct {
	req  *http.Request
	body []byte
}

// NewMockTransport creates an empty MockTransport. Requests fail until a
// response is queued or stubbed.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// RespondWith queues a response served to the next unserved request.
func (m *MockTransport) RespondWith(statusCode int, body string, header http.Header) *MockTransport {
	return m.enqueue(stub{respond: staticResponse(statusCode, body, header)})
}

// RespondWithJSON queues a JSON response.
func (m *MockTransport) RespondWithJSON(statusCode int, v any) *MockTransport {
	data, err := json.Marshal(v)
	if err != nil {
		return m.RespondWithError(fmt.Errorf("mock: marshal response: %w", err))
	}
	return m.RespondWith(statusCode, string(data), http.Header{"Content-Type": {"application/json"}})
}

// RespondWithError queues a transport error.
func (m *MockTransport) RespondWithError(err error) *MockTransport {
	return m.enqueue(stub{respond: func(*http.Request) (*http.Response, error) { return nil, err }})
}

// RespondWithFunc queues a response computed from the request.
func (m *MockTransport) RespondWithFunc(fn func(*http.Request) (*http.Response, error)) *MockTransport {
	return m.enqueue(stub{respond: fn})
}

func (m *MockTransport) enqueue(s stub) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, s)
	return m
}

// StubResponse answers every otherwise unmatched request.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &stub{respond: staticResponse(statusCode, body, nil)}
	return m
}

// StubError fails every otherwise unmatched request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &stub{respond: func(*http.Request) (*http.Response, error) { return nil, err }}
	return m
}

// StubPath answers requests to path.
func (m *MockTransport) StubPath(path string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.URL.Path == path
	}, statusCode, body)
}

// StubPathRegex answers requests whose path matches pattern.
func (m *MockTransport) StubPathRegex(pattern string, statusCode int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, statusCode, body)
}

// StubMethod answers requests with method.
func (m *MockTransport) StubMethod(method string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.Method == method
	}, statusCode, body)
}

// StubFunc answers requests matching matcher.
func (m *MockTransport) StubFunc(
	matcher func(*http.Request) bool,
	statusCode int,
	body string,
) *MockTransport {
	return m.addStub(stub{matcher: matcher, respond: staticResponse(statusCode, body, nil)})
}

// StubFuncError fails requests matching matcher with err.
func (m *MockTransport) StubFuncError(matcher func(*http.Request) bool, err error) *MockTransport {
	return m.addStub(stub{
		matcher: matcher,
		respond: func(*http.Request) (*http.Response, error) { return nil, err },
	})
}

func (m *MockTransport) addStub(s stub) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, s)
	return m
}

// OnRequest sets a hook called for each request before it is answered.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = data
	}

	m.mu.Lock()
	m.requests = append(m.requests, recordedRequest{req: req, body: body})
	hook := m.requestHook
	s := m.next(req)
	m.mu.Unlock()

	if hook != nil {
		hook(withBody(req, body))
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("mock: no response for request: " + req.Method + " " + req.URL.String())
	}
	return s.respond(req)
}

// next pops the queue or finds a stub. The caller holds m.mu.
func (m *MockTransport) next(req *http.Request) *stub {
	if len(m.queue) > 0 {
		s := m.queue[0]
		m.queue = m.queue[1:]
		return &s
	}
	for i := range m.stubs {
		if m.stubs[i].matcher(req) {
			return &m.stubs[i]
		}
	}
	return m.defaultStub
}

// Requests returns the requests received so far. Their bodies can be read.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*http.Request, len(m.requests))
	for i, r := range m.requests {
		out[i] = withBody(r.req, r.body)
	}
	return out
}

// RequestBodies returns the bodies of the requests received so far.
func (m *MockTransport) RequestBodies() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.body
	}
	return out
}

// RequestCount returns the number of requests received.
func (m *MockTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the latest request, or nil.
func (m *MockTransport) LastRequest() *http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	last := m.requests[len(m.requests)-1]
	return withBody(last.req, last.body)
}

// Reset forgets requests, queued responses and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
	m.stubs = nil
	m.defaultStub = nil
	m.requestHook = nil
}

// Factory returns a TransportFactory serving m. Set it on a settings node
// under TransportFactoryKey to route that node's clients to the mock.
func (m *MockTransport) Factory() *TransportFactory {
	m.factoryOnce.Do(func() {
		m.factory = NewTransportFactory("mock", func(*Client) http.RoundTripper { return m })
	})
	return m.factory
}

// WithMockTransport sends every request of the client to mock.
func WithMockTransport(mock *MockTransport) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = mock
	}
}

func staticResponse(statusCode int, body string, header http.Header) func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		h := header.Clone()
		if h == nil {
			h = make(http.Header)
		}
		return &http.Response{
			Status:        strconv.Itoa(statusCode) + " " + http.StatusText(statusCode),
			StatusCode:    statusCode,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        h,
			Body:          io.NopCloser(bytes.NewBufferString(body)),
			ContentLength: int64(len(body)),
			Request:       req,
		}, nil
	}
}

func withBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body == nil {
		clone.Body = http.NoBody
	} else {
		clone.Body = io.NopCloser(bytes.NewReader(body))
	}
	return clone
}
