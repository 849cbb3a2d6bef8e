package courier

import (
	"context"
	"sync"
)

// Stream is a handle to one in-flight logical request with explicit
// cancellation. It is the only consumption style that can abandon a request
// after dispatch; Do and DoAsync are limited to ctx-driven cancellation.
type Stream struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	done    bool
	resp    *Response
	err     error
	waiters []chan struct{}
}

// DoStream starts the request and returns immediately with a handle. The
// outcome is retrieved with Wait; progress and chunk observers attach the
// same way as on Do.
func (c *Client) DoStream(ctx context.Context, p Params, opts ...RequestOption) *Stream {
	obs := newObservers(opts)
	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{cancel: cancel}

	go func() {
		resp, err := c.execute(streamCtx, p, obs)
		s.finish(resp, err)
	}()
	return s
}

// Cancel abandons the request. The transport call is interrupted and Wait
// returns a KindCancelled error. Cancelling an already-terminal stream is a
// no-op; the original outcome stands.
func (s *Stream) Cancel() {
	s.cancel()
}

// Done reports whether the stream has reached a terminal state.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the stream reaches a terminal state and returns its
// outcome. Wait may be called from any number of goroutines; all receive
// the same result.
func (s *Stream) Wait() (*Response, error) {
	s.mu.Lock()
	if s.done {
		defer s.mu.Unlock()
		return s.resp, s.err
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	<-ch

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp, s.err
}

// finish records the terminal outcome exactly once and releases waiters.
func (s *Stream) finish(resp *Response, err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.resp = resp
	s.err = err
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	s.cancel()
	for _, ch := range waiters {
		close(ch)
	}
}
