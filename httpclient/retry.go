package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig controls automatic retries of transient failures.
//
// Retries replay the same Call: hooks do not run again, RetryCount grows by
// one per retry, and the whole loop shares the call's Timeout. Calls that
// need hook involvement (token refresh and the like) use Call.SendAgain from
// an OnError hook instead.
type RetryConfig struct {
	// MaxRetries excludes the initial attempt. 0 disables retries.
	MaxRetries uint

	// InitialInterval is the wait before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps a single wait.
	MaxInterval time.Duration

	// MaxElapsedTime caps the whole retry loop. 0 means only MaxRetries applies.
	MaxElapsedTime time.Duration

	// Multiplier grows the wait after every retry.
	Multiplier float64

	// JitterFactor randomizes every wait by ±JitterFactor. Values <= 0 fall
	// back to DefaultJitterFactor.
	JitterFactor float64
}

const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

// DefaultRetryConfig retries three times starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
	}
}

// AggressiveRetryConfig retries five times starting at 200ms.
func AggressiveRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     60 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// ConservativeRetryConfig retries twice starting at 1s.
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// NoRetryConfig disables automatic retries. It is the client default.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// IsEnabled reports whether retries are on.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// ExponentialBackOffFromConfig converts c into a cenkalti exponential backoff.
func ExponentialBackOffFromConfig(c RetryConfig) *backoff.ExponentialBackOff {
	jitter := c.JitterFactor
	if jitter <= 0 {
		jitter = DefaultJitterFactor
	}
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = DefaultMultiplier
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialInterval,
		RandomizationFactor: jitter,
		Multiplier:          multiplier,
		MaxInterval:         c.MaxInterval,
	}
	b.Reset()
	return b
}

// errRetryableStatus marks an attempt that produced a retryable status.
var errRetryableStatus = errors.New("httpclient: retryable status")

// sendWithRetry performs the attempts of one call. Without a RetryConfig it
// is a single attempt. When retries run out on a retryable status, the last
// response is returned without error so status handling can fail the call.
func (c *Client) sendWithRetry(ctx context.Context, call *Call) (*http.Response, error) {
	rc := c.config.RetryConfig
	if !rc.IsEnabled() {
		return c.attempt(ctx, call)
	}

	classifier := c.config.RetryClassifier
	if classifier == nil {
		classifier = DefaultClassifier
	}

	span := trace.SpanFromContext(ctx)
	attrs := c.config.baseAttributes()
	start := time.Now()

	var last *http.Response
	operation := func() (*http.Response, error) {
		if last != nil {
			drainAndClose(last)
			last = nil
		}

		resp, err := c.attempt(ctx, call)
		if !classifier(resp, err) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		last = resp
		return nil, errRetryableStatus
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(c.retryBackOff()),
		backoff.WithMaxTries(rc.MaxRetries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			call.RetryCount++
			reason := classifyError(err)
			if errors.Is(err, errRetryableStatus) && last != nil {
				reason = strconv.Itoa(last.StatusCode)
			}
			recordRetryEvent(span, call.RetryCount, reason, next)
			c.config.Metrics.recordRetryAttempt(ctx, attrs, call.RetryCount)
			c.logger.Debug().
				Str("call", call.String()).
				Int("attempt", call.RetryCount).
				Str("reason", reason).
				Dur("next", next).
				Msg("retrying call")
		}),
	}
	if rc.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(rc.MaxElapsedTime))
	}

	resp, err := backoff.Retry(ctx, operation, opts...)
	c.config.Metrics.recordRetryDuration(ctx, attrs, time.Since(start))

	if call.RetryCount > 0 {
		span.SetAttributes(
			attribute.Int("http.retry_count", call.RetryCount),
			attribute.Bool("http.retry_success", err == nil),
		)
	}

	if errors.Is(err, errRetryableStatus) {
		c.config.Metrics.recordRetryExhausted(ctx, attrs)
		c.logger.Warn().
			Str("call", call.String()).
			Int("retries", call.RetryCount).
			Msg("retries exhausted")
		return last, nil
	}
	if last != nil {
		drainAndClose(last)
	}
	if err != nil && call.RetryCount > 0 && ctx.Err() == nil {
		c.config.Metrics.recordRetryExhausted(ctx, attrs)
	}
	return resp, err
}

func (c *Client) retryBackOff() backoff.BackOff {
	if b := c.config.RetryBackOff; b != nil {
		b.Reset()
		return b
	}
	return ExponentialBackOffFromConfig(c.config.RetryConfig)
}

func recordRetryEvent(span trace.Span, attempt int, reason string, next time.Duration) {
	if !span.IsRecording() {
		return
	}
	span.AddEvent("retry", trace.WithAttributes(
		attribute.Int("retry.attempt", attempt),
		attribute.String("retry.reason", reason),
		attribute.Int64("retry.delay_ms", next.Milliseconds()),
	))
}

// drainAndClose discards a response that will not be returned.
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
