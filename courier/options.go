package courier

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/halcyon-labs/courier-go/courier"

// Config holds tuning for the default transport built when no custom
// HTTPDoer is supplied. Use DefaultConfig() as a starting point.
//
// When a custom transport is installed with WithDoer, Config is ignored:
// connection handling is then entirely the transport's concern.
type Config struct {
	// Timeout limits the entire request lifecycle, including reading
	// the response body. Zero means no timeout.
	// Default: 30s
	Timeout time.Duration

	// DialTimeout limits establishing a new TCP connection.
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the keep-alive probe interval for active
	// connections.
	// Default: 30s
	KeepAlive time.Duration

	// MaxIdleConns caps idle connections across all hosts.
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host.
	// Default: 20
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout limits the TLS handshake.
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout limits waiting for response headers after
	// the request is written. Zero means no limit.
	ResponseHeaderTimeout time.Duration

	// DisableCompression disables transparent gzip.
	DisableCompression bool
}

// DefaultConfig returns balanced transport settings for general use.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		DialTimeout:         5 * time.Second,
		KeepAlive:           30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// buildDoer creates the default transport collaborator from the config.
func (c Config) buildDoer() HTTPDoer {
	dialer := &net.Dialer{
		Timeout:   c.DialTimeout,
		KeepAlive: c.KeepAlive,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   c.TLSHandshakeTimeout,
		ResponseHeaderTimeout: c.ResponseHeaderTimeout,
		DisableCompression:    c.DisableCompression,
	}
	return &http.Client{Transport: transport, Timeout: c.Timeout}
}

// CircuitBreakerConfig configures the optional per-client circuit breaker
// wrapped around physical dispatch.
//
// When the breaker is open, dispatch fails immediately with a transport
// error wrapping gobreaker.ErrOpenState; no HTTP call is made.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in state-change callbacks.
	// Default: "courier".
	Name string

	// ConsecutiveFailures trips the breaker after this many transport
	// failures in a row.
	// Default: 5
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing.
	// Default: 30s
	OpenTimeout time.Duration

	// HalfOpenMaxRequests caps probe requests while half-open.
	// Default: 1
	HalfOpenMaxRequests uint32

	// OnStateChange is invoked on every breaker state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns conservative breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                "courier",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// settings maps the config onto gobreaker settings.
func (c CircuitBreakerConfig) settings() gobreaker.Settings {
	name := c.Name
	if name == "" {
		name = "courier"
	}
	failures := c.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	openTimeout := c.OpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: c.HalfOpenMaxRequests,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: c.OnStateChange,
	}
}

// config holds all client construction state. Immutable once New returns.
type config struct {
	httpConfig Config
	doer       HTTPDoer

	preHooks  []PreRequestHook
	postHooks []PostRequestHook

	encoder Encoder
	decoder Decoder

	limiter     *rate.Limiter
	breakerCfg  *CircuitBreakerConfig
	coalescing  bool
	callbackRun func(func())

	logger zerolog.Logger
	debug  bool

	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		httpConfig:     DefaultConfig(),
		encoder:        JSONCodec{},
		decoder:        JSONCodec{},
		logger:         defaultLogger,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.doer == nil {
		cfg.doer = cfg.httpConfig.buildDoer()
	}
	if cfg.callbackRun == nil {
		cfg.callbackRun = func(fn func()) { fn() }
	}
	return cfg
}

// Option configures a Client at construction time.
type Option func(*config)

// WithConfig sets the tuning for the default transport. Ignored when a
// custom transport is installed with WithDoer.
func WithConfig(c Config) Option {
	return func(cfg *config) { cfg.httpConfig = c }
}

// WithDoer installs a custom transport collaborator. Anything satisfying
// the standard http.Client Do contract works, including *http.Client itself
// and MockDoer in tests.
func WithDoer(d HTTPDoer) Option {
	return func(cfg *config) { cfg.doer = d }
}

// WithPreHooks appends pre-request hooks. Hooks execute in the order given,
// across all WithPreHooks options. The chain is fixed for the client's
// lifetime.
func WithPreHooks(hooks ...PreRequestHook) Option {
	return func(cfg *config) { cfg.preHooks = append(cfg.preHooks, hooks...) }
}

// WithPostHooks appends post-request hooks. Hooks execute in the order
// given, across all WithPostHooks options. The chain is fixed for the
// client's lifetime.
func WithPostHooks(hooks ...PostRequestHook) Option {
	return func(cfg *config) { cfg.postHooks = append(cfg.postHooks, hooks...) }
}

// WithEncoder sets the default encoder for structured request payloads.
// Default: JSONCodec.
func WithEncoder(e Encoder) Option {
	return func(cfg *config) { cfg.encoder = e }
}

// WithDecoder sets the default decoder for structured response payloads.
// Default: JSONCodec.
func WithDecoder(d Decoder) Option {
	return func(cfg *config) { cfg.decoder = d }
}

// WithRateLimit installs a client-side token bucket: each dispatch waits
// for a token before the transport is invoked. A context cancelled or
// expired during the wait surfaces through the normal error taxonomy.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(cfg *config) {
		cfg.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithCircuitBreaker wraps every physical dispatch in a circuit breaker.
func WithCircuitBreaker(c CircuitBreakerConfig) Option {
	return func(cfg *config) { cfg.breakerCfg = &c }
}

// WithCoalescing deduplicates concurrent identical blocking GET/HEAD
// requests: while one is in flight, identical callers share its result
// instead of dispatching again. Nothing is stored once the request
// completes, so this is deduplication, not caching. Requests with
// observers attached are never coalesced.
func WithCoalescing() Option {
	return func(cfg *config) { cfg.coalescing = true }
}

// WithCallbackExecutor sets the context on which DoAsync completion
// callbacks run. The executor receives a closure and must run it exactly
// once — typically by posting it to an event loop or main goroutine. The
// default runs the callback on the engine's goroutine.
func WithCallbackExecutor(run func(func())) Option {
	return func(cfg *config) { cfg.callbackRun = run }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// WithDebug enables request/response debug logging, including a
// reproducible cURL rendition of each dispatched request.
func WithDebug(enabled bool) Option {
	return func(cfg *config) { cfg.debug = enabled }
}

// WithServiceName identifies this client on spans and metrics.
func WithServiceName(name string) Option {
	return func(cfg *config) { cfg.serviceName = name }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) { cfg.tracerProvider = tp }
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) { cfg.meterProvider = mp }
}
