package courier

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Client executes logical HTTP requests through an ordered hook pipeline.
//
// Create a Client with New:
//
//	client := courier.New(
//	    courier.WithPreHooks(courier.BearerAuthHook(token)),
//	    courier.WithServiceName("billing"),
//	)
//
//	resp, err := client.Do(ctx, courier.NewParams(courier.GET, url))
//
// A Client's hook chains, encoder and decoder are fixed at construction and
// immutable for its lifetime; aside from the in-flight request registry the
// client holds no mutable state, and it is safe for concurrent use by
// multiple goroutines. The client does not own the transport session's
// lifecycle beyond issuing and cancelling individual calls.
type Client struct {
	doer      HTTPDoer
	preHooks  []PreRequestHook
	postHooks []PostRequestHook
	encoder   Encoder
	decoder   Decoder

	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	flight      *singleflight.Group
	callbackRun func(func())

	logger zerolog.Logger
	debug  bool

	serviceName string
	tracer      trace.Tracer
	meter       metric.Meter
	metrics     *metrics

	// mu is the single serialization point for the in-flight registry;
	// transport calls may complete on any goroutine.
	mu       sync.Mutex
	inflight map[string]*inflightEntry
}

// New creates a Client from the given options.
func New(opts ...Option) *Client {
	cfg := newConfig(opts...)

	c := &Client{
		doer:        cfg.doer,
		preHooks:    cfg.preHooks,
		postHooks:   cfg.postHooks,
		encoder:     cfg.encoder,
		decoder:     cfg.decoder,
		limiter:     cfg.limiter,
		callbackRun: cfg.callbackRun,
		logger:      cfg.logger,
		debug:       cfg.debug,
		serviceName: cfg.serviceName,
		tracer:      cfg.tracerProvider.Tracer(scope),
		meter:       cfg.meterProvider.Meter(scope),
		inflight:    make(map[string]*inflightEntry),
	}
	if cfg.breakerCfg != nil {
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](cfg.breakerCfg.settings())
	}
	if cfg.coalescing {
		c.flight = &singleflight.Group{}
	}

	// A nil metrics set simply records nothing.
	c.metrics, _ = newMetrics(c.meter)

	return c
}

var (
	defaultClient     *Client
	defaultClientOnce sync.Once
)

// Default returns the shared default client, created on first use with no
// options. It exists for convenience at simple call sites; programs that
// need hooks or custom configuration should construct their own clients
// with New, and any number of independently configured clients may coexist.
func Default() *Client {
	defaultClientOnce.Do(func() {
		defaultClient = New()
	})
	return defaultClient
}

// Do executes the request and blocks until it completes, returning the
// final response or a classified error.
//
// The calling goroutine suspends on a synchronization primitive until the
// engine reaches a terminal state. Do must not be called from the callback
// executor's context (see WithCallbackExecutor) when that context is a
// single event loop: the engine may need it to make progress, and waiting
// on it there deadlocks. Do has no cancellation mechanism of its own beyond
// ctx; for explicit mid-flight cancellation use DoStream.
func (c *Client) Do(ctx context.Context, p Params, opts ...RequestOption) (*Response, error) {
	obs := newObservers(opts)

	if c.flight != nil && obs == nil && p.method().queryBearing() && p.Body == nil {
		return c.doCoalesced(ctx, p)
	}

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.execute(ctx, p, obs)
		done <- outcome{resp, err}
	}()
	o := <-done
	return o.resp, o.err
}

// doCoalesced shares one in-flight execution among concurrent identical
// requests. The shared Response is immutable, so handing the same instance
// to every waiter is safe.
func (c *Client) doCoalesced(ctx context.Context, p Params) (*Response, error) {
	key := coalesceKey(p)
	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.execute(ctx, p, nil)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := v.(*Response)
	if !ok {
		return nil, fmt.Errorf("courier: unexpected coalesced result %T", v)
	}
	return resp, nil
}

// DoAsync executes the request without blocking the caller and invokes done
// exactly once with the terminal outcome. The callback runs on the
// executor installed with WithCallbackExecutor (by default, the engine's
// goroutine), regardless of which goroutine produced the result.
//
// DoAsync has no cancellation mechanism beyond ctx; this is a known
// limitation of the callback style, use DoStream when explicit mid-flight
// cancellation is needed.
func (c *Client) DoAsync(ctx context.Context, p Params, done func(*Response, error), opts ...RequestOption) {
	obs := newObservers(opts)
	go func() {
		resp, err := c.execute(ctx, p, obs)
		c.callbackRun(func() { done(resp, err) })
	}()
}

// Exchange encodes in with the client's encoder, sends it as the request
// body, and on success decodes the response body into out with the
// client's decoder.
//
// Either side may be nil: a nil in sends the body already present in p (if
// any), a nil out skips decoding. When out is non-nil, a bodyless response
// yields a KindEmptyResponse error and a failed decode yields a
// KindDecoding error carrying out's type name and the full response, so
// the failure is diagnosable without reproducing the request.
func (c *Client) Exchange(ctx context.Context, p Params, in, out any) (*Response, error) {
	if in != nil {
		p = p.WithBody(c.EncodeBody(in))
	}

	resp, err := c.Do(ctx, p)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return resp, nil
	}

	if len(resp.RawBytes) == 0 {
		return resp, emptyResponseError(resp)
	}
	if err := c.decoder.Decode(resp.RawBytes, out); err != nil {
		return resp, decodingError(fmt.Sprintf("%T", out), err, resp)
	}
	return resp, nil
}

// EncodeBody serializes v with the client's encoder and wraps it as a
// request body. An encoding failure is carried inside the body and
// surfaces, unmodified, when the request executes.
func (c *Client) EncodeBody(v any) Body {
	data, err := c.encoder.Encode(v)
	if err != nil {
		return errBody{err: err}
	}
	return RawBody{Data: data, Type: c.encoder.ContentType()}
}

// Get issues a blocking GET to the given absolute URL.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, NewParams(GET, url))
}

// Head issues a blocking HEAD to the given absolute URL.
func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, NewParams(HEAD, url))
}

// Post issues a blocking POST with the given body to the given absolute
// URL.
func (c *Client) Post(ctx context.Context, url string, body Body) (*Response, error) {
	return c.Do(ctx, NewParams(POST, url).WithBody(body))
}

// PostForm issues a blocking POST with form-encoded data to the given
// absolute URL.
func (c *Client) PostForm(ctx context.Context, url string, form FormBody) (*Response, error) {
	return c.Post(ctx, url, form)
}

// InflightCount reports the number of physical transport calls currently in
// flight on this client.
func (c *Client) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
