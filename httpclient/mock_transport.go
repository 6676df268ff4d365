package httpclient

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

// MockEngine is a configurable engine for testing. It stands in for the
// impersonation engine underneath all middleware, consumes request bodies
// the way a real engine would and records what it was sent.
//
// Example:
//
//	mock := httpclient.NewMockEngine().StubResponse(http.StatusOK, `{"ok":true}`)
//	client, _ := httpclient.New(httpclient.WithMockEngine(mock))
//	_, _ = client.Get(ctx, "https://example.com")
//	req := mock.LastRequest()
type MockEngine struct {
	mu          sync.RWMutex
	stubs       []stub
	defaultResp *stubResponse
	defaultErr  error
	delay       time.Duration
	requests    []*http.Request
	bodies      [][]byte
	requestHook func(*http.Request)
}

type stub struct {
	matcher  func(*http.Request) bool
	response *stubResponse
	err      error
}

// stubResponse is kept as plain data so every match gets a fresh body.
type stubResponse struct {
	status int
	header http.Header
	body   []byte
}

// NewMockEngine creates a new MockEngine for testing.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// StubResponse stubs all requests to return the given response.
func (m *MockEngine) StubResponse(statusCode int, body string) *MockEngine {
	return m.StubResponseWithHeader(statusCode, body, nil)
}

// StubResponseWithHeader stubs all requests to return the given response
// with header, e.g. Set-Cookie or Location.
func (m *MockEngine) StubResponseWithHeader(statusCode int, body string, header http.Header) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = newStubResponse(statusCode, body, header)
	return m
}

// StubError stubs all requests to return the given error.
func (m *MockEngine) StubError(err error) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultErr = err
	return m
}

// StubDelay holds every response back by d, or until the request context ends.
func (m *MockEngine) StubDelay(d time.Duration) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// StubPath stubs requests matching the path to return the given response.
func (m *MockEngine) StubPath(path string, statusCode int, body string) *MockEngine {
	return m.StubFunc(func(req *http.Request) bool {
		return req.URL.Path == path
	}, statusCode, body)
}

// StubPathRegex stubs requests matching the path regex to return the given response.
func (m *MockEngine) StubPathRegex(pattern string, statusCode int, body string) *MockEngine {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, statusCode, body)
}

// StubMethod stubs requests with the given method to return the given response.
func (m *MockEngine) StubMethod(method string, statusCode int, body string) *MockEngine {
	return m.StubFunc(func(req *http.Request) bool {
		return req.Method == method
	}, statusCode, body)
}

// StubFunc stubs requests matching the predicate to return the given response.
func (m *MockEngine) StubFunc(
	matcher func(*http.Request) bool,
	statusCode int,
	body string,
) *MockEngine {
	return m.StubFuncWithHeader(matcher, statusCode, body, nil)
}

// StubFuncWithHeader stubs requests matching the predicate to return the
// given response with header.
func (m *MockEngine) StubFuncWithHeader(
	matcher func(*http.Request) bool,
	statusCode int,
	body string,
	header http.Header,
) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{
		matcher:  matcher,
		response: newStubResponse(statusCode, body, header),
	})
	return m
}

// StubFuncError stubs requests matching the predicate to return the given error.
func (m *MockEngine) StubFuncError(matcher func(*http.Request) bool, err error) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{
		matcher: matcher,
		err:     err,
	})
	return m
}

// OnRequest sets a hook that is called for each request.
// Useful for assertions or capturing request details.
func (m *MockEngine) OnRequest(fn func(*http.Request)) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// Do implements Doer.
func (m *MockEngine) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	hook := m.requestHook
	delay := m.delay
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Check stubs in order (first match wins)
	for _, s := range m.stubs {
		if s.matcher(req) {
			if s.err != nil {
				return nil, s.err
			}
			return s.response.build(req), nil
		}
	}

	if m.defaultErr != nil {
		return nil, m.defaultErr
	}
	if m.defaultResp != nil {
		return m.defaultResp.build(req), nil
	}

	return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
}

// Requests returns all requests sent to this engine.
func (m *MockEngine) Requests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*http.Request{}, m.requests...)
}

// RequestCount returns the number of requests made.
func (m *MockEngine) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockEngine) LastRequest() *http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// LastBody returns the body of the most recent request as the engine read it.
func (m *MockEngine) LastBody() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bodies) == 0 {
		return nil
	}
	return m.bodies[len(m.bodies)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockEngine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.bodies = nil
	m.stubs = nil
	m.defaultResp = nil
	m.defaultErr = nil
	m.delay = 0
	m.requestHook = nil
}

func newStubResponse(statusCode int, body string, header http.Header) *stubResponse {
	h := make(http.Header, len(header))
	for k, v := range header {
		h[k] = append([]string(nil), v...)
	}
	return &stubResponse{status: statusCode, header: h, body: []byte(body)}
}

// build returns a fresh response tied to req.
func (s *stubResponse) build(req *http.Request) *http.Response {
	header := make(http.Header, len(s.header))
	for k, v := range s.header {
		header[k] = append([]string(nil), v...)
	}
	return &http.Response{
		Status:        strconv.Itoa(s.status) + " " + http.StatusText(s.status),
		StatusCode:    s.status,
		Proto:         "HTTP/2.0",
		ProtoMajor:    2,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}
}
