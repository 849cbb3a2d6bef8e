package courier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpguts"
)

// Progress is the fraction of the response body received so far, in
// [0, 1], or ProgressUnknown when the total length is not known.
type Progress float64

// ProgressUnknown is reported while the response declares no content
// length. A final Progress of 1 is still reported once the body is fully
// read.
const ProgressUnknown Progress = -1

// Known reports whether the progress value carries a usable fraction.
func (p Progress) Known() bool {
	return p >= 0
}

// RequestOption attaches per-request observers to any consumption style.
type RequestOption func(*observers)

// WithProgress registers a progress observer. It is invoked from the
// engine's goroutine for every body chunk received, and once more with 1
// when the body completes. Progress is reported for every status code.
func WithProgress(fn func(Progress)) RequestOption {
	return func(o *observers) { o.onProgress = fn }
}

// WithChunks registers an incremental-data observer. It is invoked from
// the engine's goroutine with each body chunk as it arrives — but only for
// non-error statuses; chunks of an error-status response are withheld even
// though progress is still reported. The chunk slice is owned by the
// observer.
func WithChunks(fn func([]byte)) RequestOption {
	return func(o *observers) { o.onChunk = fn }
}

// observers is the per-request observation set. Nil when the caller
// registered nothing, which lets fast paths skip the plumbing.
type observers struct {
	onProgress func(Progress)
	onChunk    func([]byte)
}

func newObservers(opts []RequestOption) *observers {
	if len(opts) == 0 {
		return nil
	}
	o := &observers{}
	for _, opt := range opts {
		opt(o)
	}
	if o.onProgress == nil && o.onChunk == nil {
		return nil
	}
	return o
}

// inflightEntry is the registry record for one physical transport call.
// Entries are created immediately before dispatch and removed,
// unconditionally and idempotently, when the call reaches a terminal state.
type inflightEntry struct {
	cancel   context.CancelFunc
	obs      *observers
	received int64
	total    int64
}

// register adds an entry under a fresh identifier. Identifiers are UUIDs,
// so no identifier is ever reused while its entry is live.
func (c *Client) register(id string, e *inflightEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[id] = e
}

// deregister removes an entry. Safe to call more than once.
func (c *Client) deregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.inflight[id]; ok {
		e.cancel()
		delete(c.inflight, id)
	}
}

// execute runs one logical request through the full state machine:
// pre-hooks, dispatch, then the post-hook decision chain. All three
// consumption styles funnel through here.
func (c *Client) execute(ctx context.Context, p Params, obs *observers) (*Response, error) {
	// PRE_HOOKS: fold the chain over the parameters, in order. A hook
	// error aborts before any transport call and surfaces as-is.
	final := p
	for _, h := range c.preHooks {
		var err error
		final, err = h.Execute(final)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.dispatch(ctx, final, obs)
	if err != nil {
		return nil, err
	}

	// POST_HOOKS: strictly in order; a hook never sees state from a
	// later hook. MakeNewRequest re-dispatches on the hooks-skipped
	// path: pre-hooks are deliberately not reapplied.
	for i := 0; i < len(c.postHooks); i++ {
		decision, err := c.postHooks[i].Execute(resp, final)
		if err != nil {
			return nil, err
		}
		switch decision.kind {
		case decisionComplete:
			return resp, nil
		case decisionNewRequest:
			resp, err = c.dispatch(ctx, decision.next, obs)
			if err != nil {
				return nil, err
			}
		case decisionContinue:
			// The unmodified response flows to the next hook.
		}
	}
	return resp, nil
}

// dispatch makes exactly one physical transport call and normalizes its
// outcome into a Response or a classified error.
func (c *Client) dispatch(ctx context.Context, p Params, obs *observers) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyTransport(err)
		}
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := buildRequest(callCtx, p)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	entry := &inflightEntry{cancel: cancel, obs: obs, total: -1}
	c.register(id, entry)
	defer c.deregister(id)

	spanCtx, span := c.tracer.Start(callCtx, "HTTP "+string(p.method()),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.requestAttributes(p)...),
	)
	defer span.End()

	attrs := c.baseAttributes()
	c.metrics.recordActiveStart(spanCtx, attrs)
	defer c.metrics.recordActiveEnd(spanCtx, attrs)

	if c.debug {
		logRequest(c.logger, id, req)
		c.logger.Debug().Str("request_id", id).Str("curl", curlCommand(p, req)).Msg("reproduce")
	}

	start := time.Now()
	httpResp, err := c.roundTrip(req.WithContext(spanCtx), p)
	if err != nil {
		cerr := classifyTransport(err)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		c.metrics.recordError(spanCtx, cerr.Kind, attrs)
		c.metrics.recordDuration(spanCtx, time.Since(start), c.outcomeAttributes(p, 0, cerr.Kind))
		return nil, cerr
	}
	if httpResp == nil {
		// Transport contract violation; defensive, should never fire.
		uerr := unknownOutcomeError(p)
		span.RecordError(uerr)
		span.SetStatus(codes.Error, uerr.Error())
		c.metrics.recordError(spanCtx, KindUnknown, attrs)
		return nil, uerr
	}

	body, err := c.readBody(callCtx, httpResp, entry)
	if err != nil {
		cerr := classifyTransport(err)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		c.metrics.recordError(spanCtx, cerr.Kind, attrs)
		c.metrics.recordDuration(spanCtx, time.Since(start), c.outcomeAttributes(p, httpResp.StatusCode, cerr.Kind))
		return nil, cerr
	}

	duration := time.Since(start)
	resp := &Response{
		StatusCode: httpResp.StatusCode,
		RawBytes:   body,
		Header:     httpResp.Header.Clone(),
		Params:     p,
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.IsError() {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	c.metrics.recordDuration(spanCtx, duration, c.outcomeAttributes(p, resp.StatusCode, 0))
	c.metrics.recordResponseSize(spanCtx, int64(len(body)), attrs)

	if c.debug {
		logResponse(c.logger, id, resp, duration)
	}
	return resp, nil
}

// roundTrip invokes the transport collaborator, through the circuit
// breaker when one is installed. A per-request transport on the parameters
// overrides the client's.
func (c *Client) roundTrip(req *http.Request, p Params) (*http.Response, error) {
	doer := c.doer
	if p.Doer != nil {
		doer = p.Doer
	}
	if c.breaker == nil {
		return doer.Do(req)
	}
	return c.breaker.Execute(func() (*http.Response, error) {
		return doer.Do(req)
	})
}

// buildRequest materializes the parameters into an http.Request. The URL
// (including any appended query string) is validated here, immediately
// before dispatch.
func buildRequest(ctx context.Context, p Params) (*http.Request, error) {
	method := p.method()
	if !httpguts.ValidHeaderFieldName(string(method)) {
		// Methods share the header token grammar. Misuse of the API,
		// surfaced as-is rather than classified.
		return nil, fmt.Errorf("courier: invalid method %q", string(method))
	}

	finalURL := p.URL
	queryEncoded := false
	if qe, ok := p.Body.(QueryEncoder); ok && method.queryBearing() {
		if q := qe.EncodeQuery(); q != "" {
			sep := "?"
			if strings.Contains(finalURL, "?") {
				sep = "&"
			}
			finalURL += sep + q
		}
		queryEncoded = true
	}

	u, err := url.Parse(finalURL)
	if err != nil {
		return nil, invalidURLError(p, finalURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, invalidURLError(p, finalURL, nil)
	}

	var payload []byte
	contentType := ""
	if p.Body != nil && !queryEncoded {
		payload, err = p.Body.Payload()
		if err != nil {
			// Body encoding failures are caller errors, passed
			// through unmodified like hook errors.
			return nil, err
		}
		contentType = p.Body.ContentType()
	}

	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, string(method), u.String(), bodyReader)
	if err != nil {
		return nil, invalidURLError(p, finalURL, err)
	}

	for k, v := range p.Headers {
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, fmt.Errorf("courier: invalid header name %q", k)
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return nil, fmt.Errorf("courier: invalid value for header %q", k)
		}
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// readBody buffers the full response body, feeding progress and data-chunk
// observers as bytes arrive. Data chunks are withheld for error statuses;
// progress is always reported.
func (c *Client) readBody(ctx context.Context, httpResp *http.Response, entry *inflightEntry) ([]byte, error) {
	defer httpResp.Body.Close()

	entry.total = httpResp.ContentLength
	forward := forwardsData(httpResp.StatusCode)

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		// Transports surface cancellation through Body.Read
		// eventually, but checking between chunks keeps cancellation
		// prompt even with transports that do not.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := httpResp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			entry.received += int64(n)
			if entry.obs != nil {
				if entry.obs.onChunk != nil && forward {
					out := make([]byte, n)
					copy(out, chunk[:n])
					entry.obs.onChunk(out)
				}
				if entry.obs.onProgress != nil {
					entry.obs.onProgress(progressOf(entry.received, entry.total))
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
	}

	if entry.obs != nil && entry.obs.onProgress != nil {
		entry.obs.onProgress(Progress(1))
	}
	body := buf.Bytes()
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

func progressOf(received, total int64) Progress {
	if total <= 0 {
		return ProgressUnknown
	}
	p := Progress(float64(received) / float64(total))
	if p > 1 {
		p = 1
	}
	return p
}

// requestAttributes returns span attributes for one dispatch.
func (c *Client) requestAttributes(p Params) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", string(p.method())),
		attribute.String("url.full", p.URL),
	}
	return append(attrs, c.baseAttributes()...)
}

// baseAttributes returns attributes common to all spans and metrics.
func (c *Client) baseAttributes() []attribute.KeyValue {
	if c.serviceName == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("http.client.name", c.serviceName)}
}

// outcomeAttributes returns metric attributes for a terminal dispatch.
func (c *Client) outcomeAttributes(p Params, statusCode int, kind Kind) []attribute.KeyValue {
	attrs := append(c.baseAttributes(),
		attribute.String("http.request.method", string(p.method())))
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", statusCode))
	}
	if kind != 0 {
		attrs = append(attrs, attribute.String("error.type", kind.String()))
	}
	return attrs
}
