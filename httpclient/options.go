package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/fluentrest-go/settings"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/fluentrest-go/httpclient"
)

// =============================================================================
// Config - Transport Presets
// =============================================================================

// Config holds the connection-level settings of the base http.Transport.
//
// Timeout is the only field that flows into the settings cascade: it becomes
// the client-level Timeout when the Config is passed through WithConfig.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.MaxIdleConnsPerHost = 50
//
//	client := httpclient.New(
//	    httpclient.WithConfig(cfg),
//	    httpclient.WithBaseURL("https://api.example.com"),
//	)
type Config struct {
	// Timeout bounds one call, redirects excluded. Zero disables it.
	Timeout time.Duration

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle keep-alive connections per host.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps idle plus active connections per host. 0 is unlimited.
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout bounds the wait for "100 Continue".
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers. 0 defers
	// to Timeout.
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	KeepAlive time.Duration

	// FallbackDelay is the RFC 6555 dual-stack delay. Negative disables it.
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits response header size. 0 uses the
	// net/http default.
	MaxResponseHeaderBytes int64

	DisableKeepAlives  bool
	DisableCompression bool
	ForceHTTP2         bool
}

// DefaultConfig returns balanced pool and timeout settings.
func DefaultConfig() Config {
	return Config{
		Timeout: settings.DefaultTimeout,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,

		DisableCompression: true,
	}
}

// HighThroughputConfig returns settings for many concurrent calls to the same
// hosts: larger pools, larger buffers, unlimited connections per host.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig returns settings that fail fast.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// ConservativeConfig returns settings for memory-constrained processes or
// processes holding many clients.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 30 * time.Second
	cfg.WriteBufferSize = 4 * 1024
	cfg.ReadBufferSize = 4 * 1024
	return cfg
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig is everything New needs to assemble a Client.
type internalConfig struct {
	httpConfig Config
	configSet  bool

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	// ServiceName is added as "http.client.name" on spans and metrics and
	// names the circuit breaker.
	ServiceName string

	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool

	BaseURL        string
	DefaultHeaders http.Header

	Runtime   *Runtime
	Transport http.RoundTripper

	Logger zerolog.Logger

	RetryConfig     RetryConfig
	RetryClassifier RetryClassifier
	RetryBackOff    backoff.BackOff

	BreakerConfig *BreakerConfig
	RateLimit     *RateLimitConfig

	// ConnectionLeaseTimeout recycles the base transport once elapsed.
	ConnectionLeaseTimeout time.Duration

	// settingsFns are applied to the client's settings node after creation.
	settingsFns []func(*settings.Settings)
}

func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:           DefaultConfig(),
		TracerProvider:       otel.GetTracerProvider(),
		MeterProvider:        otel.GetMeterProvider(),
		ProxyFromEnvironment: true,
		DefaultHeaders:       make(http.Header),
		Logger:               zerolog.Nop(),
		RetryConfig:          NoRetryConfig(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)
	if cfg.Propagators == nil {
		cfg.Propagators = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}

	// Instruments stay nil on failure; every record method is nil-safe.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// buildTransport creates the base http.Transport from the Config preset.
func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:       hc.DialTimeout,
		KeepAlive:     hc.KeepAlive,
		FallbackDelay: hc.FallbackDelay,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           hc.MaxIdleConns,
		MaxIdleConnsPerHost:    hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        hc.MaxConnsPerHost,
		IdleConnTimeout:        hc.IdleConnTimeout,
		TLSHandshakeTimeout:    hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  hc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  hc.ExpectContinueTimeout,
		DisableKeepAlives:      hc.DisableKeepAlives,
		DisableCompression:     hc.DisableCompression,
		WriteBufferSize:        hc.WriteBufferSize,
		ReadBufferSize:         hc.ReadBufferSize,
		MaxResponseHeaderBytes: hc.MaxResponseHeaderBytes,
		TLSClientConfig:        cfg.TLSConfig,
		ForceAttemptHTTP2:      hc.ForceHTTP2,
	}

	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// baseAttributes returns attributes shared by every span and metric.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options
// =============================================================================

// Option configures a Client.
type Option func(*internalConfig)

// WithConfig sets the transport preset. Its Timeout becomes the client-level
// Timeout setting.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	)
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
		cfg.configSet = true
	}
}

// WithServiceName identifies the client in traces, metrics and breaker state.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider overrides the global TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider overrides the global MeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators overrides the W3C TraceContext + Baggage propagators.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithTLSConfig sets the TLS configuration of the base transport.
//
// Example - mutual TLS:
//
//	cert, _ := tls.LoadX509KeyPair("client.crt", "client.key")
//	client := httpclient.New(
//	    httpclient.WithTLSConfig(&tls.Config{Certificates: []tls.Certificate{cert}}),
//	)
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes every call through proxyURL, ignoring the environment.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
		cfg.ProxyFromEnvironment = false
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY/HTTPS_PROXY/NO_PROXY support.
// Default: true.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithBaseURL sets the URL that Client.Request appends path segments to.
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.BaseURL = baseURL
	}
}

// WithDefaultHeader adds a header sent with every request of the client.
// A request-level header with the same name wins.
func WithDefaultHeader(key, value string) Option {
	return func(cfg *internalConfig) {
		cfg.DefaultHeaders.Set(key, value)
	}
}

// WithDefaultHeaders adds several client-level headers.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(cfg *internalConfig) {
		for k, v := range headers {
			cfg.DefaultHeaders.Set(k, v)
		}
	}
}

// WithRuntime binds the client to a Runtime other than Default().
// The client's settings then inherit from that runtime's global settings.
func WithRuntime(rt *Runtime) Option {
	return func(cfg *internalConfig) {
		cfg.Runtime = rt
	}
}

// WithTransport replaces the base transport. The otel, breaker and rate
// limit layers still wrap it.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}

// WithLogger sets the zerolog logger used for call, redirect and cookie logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug logs every call at debug level to stdout.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		if enabled {
			cfg.Logger = debugLogger.Level(zerolog.DebugLevel)
			return
		}
		cfg.Logger = zerolog.Nop()
	}
}

// WithRetryConfig enables automatic retries of transient failures.
// Retries are disabled by default.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	)
func WithRetryConfig(rc RetryConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RetryConfig = rc
	}
}

// WithRetryClassifier overrides DefaultClassifier.
func WithRetryClassifier(c RetryClassifier) Option {
	return func(cfg *internalConfig) {
		cfg.RetryClassifier = c
	}
}

// WithRetryBackOff replaces the exponential backoff derived from RetryConfig.
// The strategy is Reset before every retry loop.
func WithRetryBackOff(b backoff.BackOff) Option {
	return func(cfg *internalConfig) {
		cfg.RetryBackOff = b
	}
}

// WithCircuitBreaker wraps the base transport in a gobreaker circuit breaker.
func WithCircuitBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithRateLimit wraps the base transport in a token bucket limiter.
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = &rl
	}
}

// WithConnectionLeaseTimeout recycles the base transport once d has elapsed
// since it was created, closing its idle connections. This lets long-lived
// clients pick up DNS changes.
func WithConnectionLeaseTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.ConnectionLeaseTimeout = d
	}
}

// WithSettings applies fn to the client's settings node.
func WithSettings(fn func(*settings.Settings)) Option {
	return func(cfg *internalConfig) {
		cfg.settingsFns = append(cfg.settingsFns, fn)
	}
}

// WithTimeout sets the client-level Timeout setting.
func WithTimeout(d time.Duration) Option {
	return WithSettings(func(s *settings.Settings) {
		s.SetTimeout(d)
	})
}

// WithAllowedHTTPStatus sets the client-level allowed status pattern,
// e.g. "4xx,500-503". See ParseStatusRange.
func WithAllowedHTTPStatus(pattern string) Option {
	return WithSettings(func(s *settings.Settings) {
		s.SetAllowedHTTPStatusRange(pattern)
	})
}

// WithAutoRedirect toggles automatic redirects for the client.
func WithAutoRedirect(enabled bool) Option {
	return WithSettings(func(s *settings.Settings) {
		s.Redirects().SetEnabled(enabled)
	})
}

// WithBeforeCall sets the client-level BeforeCall hook.
func WithBeforeCall(h Hook) Option {
	return WithSettings(func(s *settings.Settings) {
		settings.Set(s, BeforeCallKey, h)
	})
}

// WithAfterCall sets the client-level AfterCall hook.
func WithAfterCall(h Hook) Option {
	return WithSettings(func(s *settings.Settings) {
		settings.Set(s, AfterCallKey, h)
	})
}

// WithOnError sets the client-level OnError hook.
func WithOnError(h Hook) Option {
	return WithSettings(func(s *settings.Settings) {
		settings.Set(s, OnErrorKey, h)
	})
}

// WithOnRedirect sets the client-level OnRedirect hook.
func WithOnRedirect(h Hook) Option {
	return WithSettings(func(s *settings.Settings) {
		settings.Set(s, OnRedirectKey, h)
	})
}

// debugLogger is the stdout logger behind WithDebug.
var debugLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
