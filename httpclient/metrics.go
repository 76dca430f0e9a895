package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the instruments of one client. Every record method is
// nil-safe so a client without a working meter still runs.
type metrics struct {
	// === Per-attempt metrics (otel transport) ===

	requestDuration  metric.Float64Histogram
	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram
	activeRequests   metric.Int64UpDownCounter
	requestErrors    metric.Int64Counter

	// === Per-call metrics (orchestrator) ===

	// callFailures counts calls that ended in a *CallError, by kind.
	callFailures metric.Int64Counter

	// redirects counts followed redirects.
	redirects metric.Int64Counter

	// cookiesRejected counts Set-Cookie headers the jar refused.
	cookiesRejected metric.Int64Counter

	// === Resilience ===

	retryAttempts  metric.Int64Counter
	retryExhausted metric.Int64Counter
	retryDuration  metric.Float64Histogram

	breakerStateChanges metric.Int64Counter
	rateLimited         metric.Int64Counter
}

// newMetrics creates the instruments on meter.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.requestBodySize, err = meter.Int64Histogram(
		"http.client.request.body.size",
		metric.WithDescription("Size of HTTP client request bodies in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.responseBodySize, err = meter.Int64Histogram(
		"http.client.response.body.size",
		metric.WithDescription("Size of HTTP client response bodies in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of in-flight HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.requestErrors, err = meter.Int64Counter(
		"http.client.request.errors",
		metric.WithDescription("Number of HTTP client transport errors by type"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.callFailures, err = meter.Int64Counter(
		"http.client.call.failures",
		metric.WithDescription("Number of calls that ended in an error, by kind"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.redirects, err = meter.Int64Counter(
		"http.client.redirects",
		metric.WithDescription("Number of redirects followed"),
		metric.WithUnit("{redirect}"),
	)
	if err != nil {
		return nil, err
	}

	m.cookiesRejected, err = meter.Int64Counter(
		"http.client.cookies.rejected",
		metric.WithDescription("Number of response cookies refused by the cookie jar"),
		metric.WithUnit("{cookie}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryAttempts, err = meter.Int64Counter(
		"http.client.retry.attempts",
		metric.WithDescription("Number of automatic retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryExhausted, err = meter.Int64Counter(
		"http.client.retry.exhausted",
		metric.WithDescription("Number of calls that exhausted all retries"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryDuration, err = meter.Float64Histogram(
		"http.client.retry.duration",
		metric.WithDescription("Time spent in the retry loop in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerStateChanges, err = meter.Int64Counter(
		"http.client.circuit_breaker.state_changes",
		metric.WithDescription("Number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.rateLimited, err = meter.Int64Counter(
		"http.client.rate_limited",
		metric.WithDescription("Number of requests refused by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.requestBodySize == nil {
		return
	}
	m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.responseBodySize == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(withAttr(attrs, attribute.String("error.type", errorType))...))
}

func (m *metrics) recordCallFailure(ctx context.Context, kind string, attrs []attribute.KeyValue) {
	if m == nil || m.callFailures == nil {
		return
	}
	m.callFailures.Add(ctx, 1, metric.WithAttributes(withAttr(attrs, attribute.String("error.kind", kind))...))
}

func (m *metrics) recordRedirect(ctx context.Context, status int, attrs []attribute.KeyValue) {
	if m == nil || m.redirects == nil {
		return
	}
	m.redirects.Add(ctx, 1, metric.WithAttributes(withAttr(attrs, attribute.Int("http.response.status_code", status))...))
}

func (m *metrics) recordCookieRejected(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.cookiesRejected == nil {
		return
	}
	m.cookiesRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(withAttr(attrs, attribute.Int("retry.attempt", attempt))...))
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, d time.Duration) {
	if m == nil || m.retryDuration == nil {
		return
	}
	m.retryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordBreakerStateChange(ctx context.Context, from, to string, attrs []attribute.KeyValue) {
	if m == nil || m.breakerStateChanges == nil {
		return
	}
	m.breakerStateChanges.Add(ctx, 1, metric.WithAttributes(withAttr(attrs,
		attribute.String("circuit_breaker.from", from),
		attribute.String("circuit_breaker.to", to),
	)...))
}

func (m *metrics) recordRateLimited(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// withAttr returns attrs plus extra without aliasing attrs.
func withAttr(attrs []attribute.KeyValue, extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	out = append(out, attrs...)
	return append(out, extra...)
}
