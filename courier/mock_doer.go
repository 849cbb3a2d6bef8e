package courier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

// MockDoer is a configurable transport collaborator for testing. It
// implements HTTPDoer (and http.RoundTripper) and allows stubbing responses,
// sequencing outcomes across calls, and verifying the requests made.
type MockDoer struct {
	mu          sync.Mutex
	stubs       []mockStub
	sequence    []mockStub
	seqIndex    int
	defaultStub *mockStub
	requests    []*http.Request
	requestHook func(*http.Request)
}

type mockStub struct {
	matcher func(*http.Request) bool
	build   func(*http.Request) (*http.Response, error)
}

// NewMockDoer creates a MockDoer with no stubs. A request that matches no
// stub fails the call with an explanatory error.
func NewMockDoer() *MockDoer {
	return &MockDoer{}
}

// StubResponse stubs all requests to return the given status and body.
func (m *MockDoer) StubResponse(statusCode int, body string) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{build: responseBuilder(statusCode, []byte(body), nil)}
	return m
}

// StubError stubs all requests to fail with the given transport error.
func (m *MockDoer) StubError(err error) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{build: func(*http.Request) (*http.Response, error) { return nil, err }}
	return m
}

// StubJSON stubs all requests to return the given status with a JSON body.
func (m *MockDoer) StubJSON(statusCode int, body string) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := http.Header{"Content-Type": []string{"application/json"}}
	m.defaultStub = &mockStub{build: responseBuilder(statusCode, []byte(body), h)}
	return m
}

// StubPath stubs requests matching the path to return the given response.
// Path stubs take precedence over the default stub; first match wins.
func (m *MockDoer) StubPath(path string, statusCode int, body string) *MockDoer {
	return m.StubFunc(func(req *http.Request) bool {
		return req.URL.Path == path
	}, statusCode, body)
}

// StubFunc stubs requests matching the predicate to return the given
// response.
func (m *MockDoer) StubFunc(matcher func(*http.Request) bool, statusCode int, body string) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, mockStub{
		matcher: matcher,
		build:   responseBuilder(statusCode, []byte(body), nil),
	})
	return m
}

// StubSequence stubs successive calls to return successive outcomes; the
// nth call gets the nth stubbed result. Calls beyond the sequence fall back
// to the other stubs. Build each step with Respond or Fail.
func (m *MockDoer) StubSequence(steps ...func(*http.Request) (*http.Response, error)) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range steps {
		m.sequence = append(m.sequence, mockStub{build: s})
	}
	return m
}

// Respond builds a sequence step returning the given status and body.
func Respond(statusCode int, body string) func(*http.Request) (*http.Response, error) {
	return responseBuilder(statusCode, []byte(body), nil)
}

// Fail builds a sequence step failing with the given transport error.
func Fail(err error) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) { return nil, err }
}

// StubChunked stubs all requests to return the given status with the body
// delivered one chunk per read, declaring contentLength up front (-1 for
// unknown). Used to exercise incremental delivery and progress reporting.
func (m *MockDoer) StubChunked(statusCode int, contentLength int64, chunks ...[]byte) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{build: func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    statusCode,
			Status:        http.StatusText(statusCode),
			Header:        make(http.Header),
			Body:          &chunkedBody{ctx: req.Context(), chunks: chunks},
			ContentLength: contentLength,
			Request:       req,
		}, nil
	}}
	return m
}

// StubHanging stubs all requests to return the given status and chunks and
// then hang mid-body until the request context is cancelled. Used to
// exercise mid-flight cancellation.
func (m *MockDoer) StubHanging(statusCode int, chunks ...[]byte) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{build: func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    statusCode,
			Status:        http.StatusText(statusCode),
			Header:        make(http.Header),
			Body:          &chunkedBody{ctx: req.Context(), chunks: chunks, hang: true},
			ContentLength: -1,
			Request:       req,
		}, nil
	}}
	return m
}

// OnRequest sets a hook invoked for each request, for assertions or
// capturing details.
func (m *MockDoer) OnRequest(fn func(*http.Request)) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// Do implements HTTPDoer.
func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.requestHook

	var chosen *mockStub
	if m.seqIndex < len(m.sequence) {
		chosen = &m.sequence[m.seqIndex]
		m.seqIndex++
	}
	if chosen == nil {
		for i := range m.stubs {
			if m.stubs[i].matcher(req) {
				chosen = &m.stubs[i]
				break
			}
		}
	}
	if chosen == nil {
		chosen = m.defaultStub
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if chosen == nil {
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	}
	return chosen.build(req)
}

// RoundTrip implements http.RoundTripper, so a MockDoer can also back a
// real *http.Client.
func (m *MockDoer) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Do(req)
}

// Requests returns a copy of all requests made through this doer.
func (m *MockDoer) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request{}, m.requests...)
}

// RequestCount returns the number of requests made.
func (m *MockDoer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockDoer) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.stubs = nil
	m.sequence = nil
	m.seqIndex = 0
	m.defaultStub = nil
	m.requestHook = nil
}

func responseBuilder(statusCode int, body []byte, header http.Header) func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		h := make(http.Header)
		for k, v := range header {
			h[k] = v
		}
		return &http.Response{
			StatusCode:    statusCode,
			Status:        http.StatusText(statusCode),
			Header:        h,
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       req,
		}, nil
	}
}

// chunkedBody yields one stubbed chunk per Read call. With hang set it
// blocks after the chunks run out until the request context is cancelled,
// then surfaces the context error.
type chunkedBody struct {
	ctx    context.Context
	chunks [][]byte
	index  int
	hang   bool
	closed chan struct{}
	once   sync.Once
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.ctx != nil {
		select {
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		default:
		}
	}
	if b.index < len(b.chunks) {
		n := copy(p, b.chunks[b.index])
		if n < len(b.chunks[b.index]) {
			b.chunks[b.index] = b.chunks[b.index][n:]
		} else {
			b.index++
		}
		return n, nil
	}
	if !b.hang {
		return 0, io.EOF
	}

	b.once.Do(func() { b.closed = make(chan struct{}) })
	select {
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	case <-b.closed:
		return 0, io.EOF
	}
}

func (b *chunkedBody) Close() error {
	b.once.Do(func() { b.closed = make(chan struct{}) })
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}
