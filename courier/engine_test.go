package courier

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_PreHooks(t *testing.T) {
	t.Run("given chained hooks, then they fold in order", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		var order []string
		client := New(
			WithDoer(mock),
			WithPreHooks(
				PreRequestHookFunc(func(p Params) (Params, error) {
					order = append(order, "first")
					return p.WithHeader("X-Step", "one"), nil
				}),
				PreRequestHookFunc(func(p Params) (Params, error) {
					order = append(order, "second")
					// Sees the previous hook's output.
					assert.Equal(t, "one", p.Headers["X-Step"])
					return p.WithHeader("X-Step", "two"), nil
				}),
			),
		)

		resp, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com/items"))

		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, order)
		assert.Equal(t, "two", mock.LastRequest().Header.Get("X-Step"))
		// The response records the fully transformed parameters.
		assert.Equal(t, "two", resp.Params.Headers["X-Step"])
	})

	t.Run("given a hook error, then no transport call is made and the error surfaces as-is", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		hookErr := errors.New("credentials unavailable")
		client := New(
			WithDoer(mock),
			WithPreHooks(PreRequestHookFunc(func(p Params) (Params, error) {
				return Params{}, hookErr
			})),
		)

		_, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com/items"))

		assert.Equal(t, hookErr, err)
		assert.Equal(t, 0, mock.RequestCount())
		_, classified := KindOf(err)
		assert.False(t, classified)
	})
}

func TestExecute_PostHooks(t *testing.T) {
	t.Run("given all hooks continue, then the last response is final", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		var seen []int
		client := New(
			WithDoer(mock),
			WithPostHooks(
				PostRequestHookFunc(func(last *Response, _ Params) (Decision, error) {
					seen = append(seen, last.StatusCode)
					return Continue(), nil
				}),
				PostRequestHookFunc(func(last *Response, _ Params) (Decision, error) {
					seen = append(seen, last.StatusCode)
					return Continue(), nil
				}),
			),
		)

		resp, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, []int{200, 200}, seen)
		assert.Equal(t, 1, mock.RequestCount())
	})

	t.Run("given a hook completes, then later hooks never run", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		laterRan := false
		client := New(
			WithDoer(mock),
			WithPostHooks(
				PostRequestHookFunc(func(*Response, Params) (Decision, error) {
					return Complete(), nil
				}),
				PostRequestHookFunc(func(*Response, Params) (Decision, error) {
					laterRan = true
					return Continue(), nil
				}),
			),
		)

		resp, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.False(t, laterRan)
	})

	t.Run("given a hook error, then the chain aborts and the error surfaces as-is", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		hookErr := errors.New("session invalidated")
		client := New(
			WithDoer(mock),
			WithPostHooks(PostRequestHookFunc(func(*Response, Params) (Decision, error) {
				return Decision{}, hookErr
			})),
		)

		_, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))

		assert.Equal(t, hookErr, err)
	})
}

func TestExecute_MakeNewRequest(t *testing.T) {
	t.Run("given a 401 then 200 sequence, then exactly one extra dispatch and pre-hooks run once", func(t *testing.T) {
		mock := NewMockDoer().StubSequence(
			Respond(401, "expired"),
			Respond(200, "refreshed"),
		)
		preHookRuns := 0
		client := New(
			WithDoer(mock),
			WithPreHooks(PreRequestHookFunc(func(p Params) (Params, error) {
				preHookRuns++
				return p.WithHeader("Authorization", "Bearer stale"), nil
			})),
			WithPostHooks(RefreshOn401Hook(func(original Params) (Params, error) {
				return original.WithHeader("Authorization", "Bearer fresh"), nil
			})),
		)

		resp, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com/items"))

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "refreshed", resp.Text())
		assert.Equal(t, 2, mock.RequestCount())
		assert.Equal(t, 1, preHookRuns)
		assert.Equal(t, "Bearer fresh", mock.LastRequest().Header.Get("Authorization"))
	})

	t.Run("given a replacement response, then it flows to the next hook with the original params", func(t *testing.T) {
		mock := NewMockDoer().StubSequence(
			Respond(401, ""),
			Respond(200, "second"),
		)
		original := NewParams(GET, "https://api.example.com/items")
		client := New(
			WithDoer(mock),
			WithPostHooks(
				PostRequestHookFunc(func(last *Response, _ Params) (Decision, error) {
					if last.StatusCode == 401 {
						return MakeNewRequest(last.Params.WithHeader("Authorization", "Bearer fresh")), nil
					}
					return Continue(), nil
				}),
				PostRequestHookFunc(func(last *Response, orig Params) (Decision, error) {
					// The next hook sees the replacement response, but the
					// original parameter stays the logical request's own.
					assert.Equal(t, 200, last.StatusCode)
					assert.Equal(t, original.URL, orig.URL)
					assert.Empty(t, orig.Headers["Authorization"])
					return Continue(), nil
				}),
			),
		)

		resp, err := client.Do(context.Background(), original)

		require.NoError(t, err)
		assert.Equal(t, "second", resp.Text())
	})

	t.Run("given the replacement dispatch fails, then the classified error surfaces", func(t *testing.T) {
		mock := NewMockDoer().StubSequence(
			Respond(401, ""),
			Fail(&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)}),
		)
		client := New(
			WithDoer(mock),
			WithPostHooks(RefreshOn401Hook(func(p Params) (Params, error) { return p, nil })),
		)

		_, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))

		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindNoConnectivity, kind)
	})
}

func TestDispatch_Classification(t *testing.T) {
	tests := []struct {
		name     string
		stubErr  error
		wantKind Kind
	}{
		{
			name:     "given unreachable network, then no connectivity",
			stubErr:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)},
			wantKind: KindNoConnectivity,
		},
		{
			name:     "given timeout, then timed out",
			stubErr:  &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ETIMEDOUT)},
			wantKind: KindTimedOut,
		},
		{
			name:     "given connection refused, then transport",
			stubErr:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			wantKind: KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(WithDoer(NewMockDoer().StubError(tt.stubErr)))

			_, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))

			kind, ok := KindOf(err)
			require.True(t, ok, "expected a classified error, got %v", err)
			assert.Equal(t, tt.wantKind, kind)
			assert.ErrorIs(t, err, tt.stubErr)
		})
	}
}

func TestDispatch_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "given unparsable url, then fails before dispatch", url: "http://bad url with spaces\x7f"},
		{name: "given relative url, then fails before dispatch", url: "/users/1"},
		{name: "given schemeless url, then fails before dispatch", url: "example.com/users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockDoer().StubResponse(200, "ok")
			client := New(WithDoer(mock))

			_, err := client.Do(context.Background(), NewParams(GET, tt.url))

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, KindInvalidURL, kind)
			assert.Equal(t, 0, mock.RequestCount())
		})
	}
}

func TestDispatch_NilTransportOutcome(t *testing.T) {
	client := New(WithDoer(nilOutcomeDoer{}))

	_, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnknown, kind)
}

type nilOutcomeDoer struct{}

func (nilOutcomeDoer) Do(*http.Request) (*http.Response, error) { return nil, nil }

func TestBuildRequest_QueryBearing(t *testing.T) {
	t.Run("given GET with form body, then it becomes the query string and no payload is sent", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		client := New(WithDoer(mock))
		p := NewParams(GET, "https://api.example.com/search").
			WithBody(FormBody{"q": "go http", "page": "2"})

		_, err := client.Do(context.Background(), p)

		require.NoError(t, err)
		req := mock.LastRequest()
		assert.Equal(t, "https://api.example.com/search?page=2&q=go%20http", req.URL.String())
		assert.Nil(t, req.Body)
		assert.Empty(t, req.Header.Get("Content-Type"))
	})

	t.Run("given existing query, then the form appends with ampersand", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		client := New(WithDoer(mock))
		p := NewParams(GET, "https://api.example.com/search?lang=en").
			WithBody(FormBody{"q": "x"})

		_, err := client.Do(context.Background(), p)

		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com/search?lang=en&q=x", mock.LastRequest().URL.String())
	})

	t.Run("given POST with form body, then it is sent as the payload", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		client := New(WithDoer(mock))
		p := NewParams(POST, "https://api.example.com/login").
			WithBody(FormBody{"user": "ann", "pass": "pw"})

		_, err := client.Do(context.Background(), p)

		require.NoError(t, err)
		req := mock.LastRequest()
		assert.Equal(t, "https://api.example.com/login", req.URL.String())
		assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
		body, _ := io.ReadAll(req.Body)
		assert.Equal(t, "pass=pw&user=ann", string(body))
	})
}

func TestBuildRequest_Validation(t *testing.T) {
	t.Run("given invalid header name, then fails before dispatch", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		client := New(WithDoer(mock))
		p := NewParams(GET, "https://api.example.com").WithHeader("bad header", "v")

		_, err := client.Do(context.Background(), p)

		require.Error(t, err)
		assert.Equal(t, 0, mock.RequestCount())
	})

	t.Run("given invalid method token, then fails before dispatch", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		client := New(WithDoer(mock))
		p := NewParams(Method("GE T"), "https://api.example.com")

		_, err := client.Do(context.Background(), p)

		require.Error(t, err)
		assert.Equal(t, 0, mock.RequestCount())
	})

	t.Run("given body encoding failure, then the error surfaces unclassified", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		client := New(WithDoer(mock))
		p := NewParams(POST, "https://api.example.com").WithBody(JSONBody(make(chan int)))

		_, err := client.Do(context.Background(), p)

		require.Error(t, err)
		_, classified := KindOf(err)
		assert.False(t, classified)
		assert.Equal(t, 0, mock.RequestCount())
	})
}

func TestDispatch_Observers(t *testing.T) {
	t.Run("given known length, then progress reports fractions and a final 1", func(t *testing.T) {
		mock := NewMockDoer().StubChunked(200, 10, []byte("hello"), []byte("world"))
		client := New(WithDoer(mock))

		var progress []Progress
		resp, err := client.Do(context.Background(),
			NewParams(GET, "https://api.example.com/file"),
			WithProgress(func(p Progress) { progress = append(progress, p) }),
		)

		require.NoError(t, err)
		assert.Equal(t, "helloworld", resp.Text())
		require.NotEmpty(t, progress)
		assert.Equal(t, Progress(0.5), progress[0])
		assert.Equal(t, Progress(1), progress[len(progress)-1])
	})

	t.Run("given unknown length, then progress is unknown until the final 1", func(t *testing.T) {
		mock := NewMockDoer().StubChunked(200, -1, []byte("abc"), []byte("def"))
		client := New(WithDoer(mock))

		var progress []Progress
		_, err := client.Do(context.Background(),
			NewParams(GET, "https://api.example.com/file"),
			WithProgress(func(p Progress) { progress = append(progress, p) }),
		)

		require.NoError(t, err)
		require.GreaterOrEqual(t, len(progress), 2)
		assert.Equal(t, ProgressUnknown, progress[0])
		assert.False(t, progress[0].Known())
		assert.Equal(t, Progress(1), progress[len(progress)-1])
	})

	t.Run("given success status, then chunks are forwarded in order", func(t *testing.T) {
		mock := NewMockDoer().StubChunked(200, 6, []byte("abc"), []byte("def"))
		client := New(WithDoer(mock))

		var chunks []string
		_, err := client.Do(context.Background(),
			NewParams(GET, "https://api.example.com/file"),
			WithChunks(func(b []byte) { chunks = append(chunks, string(b)) }),
		)

		require.NoError(t, err)
		assert.Equal(t, []string{"abc", "def"}, chunks)
	})

	t.Run("given error status, then chunks are withheld but the body is still buffered", func(t *testing.T) {
		mock := NewMockDoer().StubChunked(500, 5, []byte("oops!"))
		client := New(WithDoer(mock))

		var chunks []string
		var progress []Progress
		resp, err := client.Do(context.Background(),
			NewParams(GET, "https://api.example.com/file"),
			WithChunks(func(b []byte) { chunks = append(chunks, string(b)) }),
			WithProgress(func(p Progress) { progress = append(progress, p) }),
		)

		require.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
		assert.Equal(t, "oops!", resp.Text())
		assert.Empty(t, chunks)
		assert.NotEmpty(t, progress)
	})
}

func TestDispatch_RateLimit(t *testing.T) {
	t.Run("given cancelled context, then the wait surfaces as cancelled", func(t *testing.T) {
		mock := NewMockDoer().StubResponse(200, "ok")
		client := New(WithDoer(mock), WithRateLimit(1, 1))

		ctx, cancel := context.WithCancel(context.Background())
		// Consume the only token, then cancel so the next wait cannot finish.
		_, err := client.Do(ctx, NewParams(GET, "https://api.example.com"))
		require.NoError(t, err)
		cancel()

		_, err = client.Do(ctx, NewParams(GET, "https://api.example.com"))

		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindCancelled, kind)
		assert.Equal(t, 1, mock.RequestCount())
	})
}

func TestDispatch_CircuitBreaker(t *testing.T) {
	mock := NewMockDoer().StubError(errors.New("connection reset"))
	client := New(
		WithDoer(mock),
		WithCircuitBreaker(CircuitBreakerConfig{ConsecutiveFailures: 2}),
	)

	// Two failures trip the breaker.
	for i := 0; i < 2; i++ {
		_, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))
		require.Error(t, err)
	}
	assert.Equal(t, 2, mock.RequestCount())

	// The open breaker fails fast without touching the transport.
	_, err := client.Do(context.Background(), NewParams(GET, "https://api.example.com"))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, kind)
	assert.Equal(t, 2, mock.RequestCount())
}

func TestDispatch_PerRequestDoer(t *testing.T) {
	clientDoer := NewMockDoer().StubResponse(500, "wrong transport")
	requestDoer := NewMockDoer().StubResponse(200, "right transport")
	client := New(WithDoer(clientDoer))

	resp, err := client.Do(context.Background(),
		NewParams(GET, "https://api.example.com").WithDoer(requestDoer))

	require.NoError(t, err)
	assert.Equal(t, "right transport", resp.Text())
	assert.Equal(t, 0, clientDoer.RequestCount())
	assert.Equal(t, 1, requestDoer.RequestCount())
}
