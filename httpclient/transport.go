package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface check.
var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport opens one client span per attempt, injects the trace context
// into the outgoing headers and records the per-attempt metrics.
type otelTransport struct {
	next       http.RoundTripper
	cfg        *internalConfig
	propagator propagation.TextMapPropagator
}

func newOtelTransport(next http.RoundTripper, cfg *internalConfig) *otelTransport {
	return &otelTransport{
		next:       next,
		cfg:        cfg,
		propagator: cfg.Propagators,
	}
}

// NewTransport wraps base with the tracing and metrics layer only, for use
// with a plain http.Client.
//
// Example:
//
//	hc := &http.Client{
//	    Transport: httpclient.NewTransport(http.DefaultTransport,
//	        httpclient.WithServiceName("billing"),
//	    ),
//	}
func NewTransport(base http.RoundTripper, opts ...Option) http.RoundTripper {
	return newOtelTransport(base, newConfig(opts...))
}

// RoundTrip implements http.RoundTripper.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := t.cfg.Tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)
	defer span.End()

	ct := &connTrace{}
	req = req.Clone(withConnTrace(ctx, ct))
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	defer ct.annotate(span)

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	if req.ContentLength > 0 {
		t.cfg.Metrics.recordRequestBodySize(ctx, req.ContentLength, baseAttrs)
	}

	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		errorType := classifyError(err)
		setSpanError(span, err, errorType)
		t.cfg.Metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration,
			withAttr(t.metricsAttributes(req), attribute.String("error.type", errorType)))
		return nil, err
	}

	span.SetAttributes(responseAttributes(resp)...)

	attrs := withAttr(t.metricsAttributes(req), attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		errorType := strconv.Itoa(resp.StatusCode)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorType))
		attrs = append(attrs, attribute.String("error.type", errorType))
	}

	if resp.ContentLength > 0 {
		t.cfg.Metrics.recordResponseBodySize(ctx, resp.ContentLength, baseAttrs)
	}
	t.cfg.Metrics.recordRequestDuration(ctx, duration, attrs)

	return resp, nil
}

func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))

	if req.URL != nil {
		attrs = append(attrs,
			attribute.String("url.full", redactedURL(req.URL)),
			attribute.String("url.scheme", req.URL.Scheme),
		)
		attrs = append(attrs, serverAttributes(req.URL)...)
	}

	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}

	if call := callFromContext(req.Context()); call != nil {
		attrs = append(attrs, attribute.String("fluentrest.call.id", call.ID.String()))
		if call.RetryCount > 0 {
			attrs = append(attrs, attribute.Int("http.request.resend_count", call.RetryCount))
		}
		if from := call.RedirectedFrom; from != nil && from.Redirect != nil {
			attrs = append(attrs, attribute.Int("fluentrest.redirect.count", from.Redirect.Count))
		}
	}

	return attrs
}

func (t *otelTransport) metricsAttributes(req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	if req.URL != nil {
		attrs = append(attrs, serverAttributes(req.URL)...)
	}
	return attrs
}

func responseAttributes(resp *http.Response) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", resp.ContentLength))
	}

	// "HTTP/1.1" -> "1.1", "HTTP/2.0" -> "2"
	if version, ok := strings.CutPrefix(resp.Proto, "HTTP/"); ok {
		if version == "2.0" {
			version = "2"
		}
		attrs = append(attrs, attribute.String("network.protocol.version", version))
	}
	return attrs
}

// serverAttributes returns server.address and server.port, defaulting the
// port from the scheme.
func serverAttributes(u *url.URL) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if host := u.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}

	if port := u.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
		return attrs
	}
	switch u.Scheme {
	case "http":
		attrs = append(attrs, attribute.Int("server.port", 80))
	case "https":
		attrs = append(attrs, attribute.Int("server.port", 443))
	}
	return attrs
}

// redactedURL drops user info from u.
func redactedURL(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = nil
	return c.String()
}

// setSpanError records err on span.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}

type callContextKey struct{}

// withCall attaches call to ctx so transport layers can label the attempt.
func withCall(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callContextKey{}, call)
}

// callFromContext returns the call being sent, or nil.
func callFromContext(ctx context.Context) *Call {
	call, _ := ctx.Value(callContextKey{}).(*Call)
	return call
}
