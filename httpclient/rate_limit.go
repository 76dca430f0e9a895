package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the token bucket layer of the transport chain.
// Every attempt consumes one token, redirects and retries included.
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate. <= 0 disables the layer.
	RequestsPerSecond float64

	// Burst is the bucket size. Values < 1 are raised to 1.
	Burst int

	// WaitOnLimit blocks until a token is available (bounded by the call's
	// context). Otherwise the attempt fails at once with ErrRateLimited.
	WaitOnLimit bool
}

// DefaultRateLimitConfig allows 100 requests per second with a burst of 10
// and waits for tokens.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// ErrRateLimited is the transport error of an attempt refused by the limiter.
var ErrRateLimited = errors.New("httpclient: rate limit exceeded")

type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	wait    bool
	cfg     *internalConfig
}

func newRateLimitTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	rl := cfg.RateLimit
	if rl == nil || rl.RequestsPerSecond <= 0 {
		return next
	}

	burst := max(rl.Burst, 1)
	return &rateLimitTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst),
		wait:    rl.WaitOnLimit,
		cfg:     cfg,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if !t.wait {
		if !t.limiter.Allow() {
			t.cfg.Metrics.recordRateLimited(ctx, t.cfg.baseAttributes())
			return nil, ErrRateLimited
		}
		return t.next.RoundTrip(req)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		t.cfg.Metrics.recordRateLimited(ctx, t.cfg.baseAttributes())
		return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return t.next.RoundTrip(req)
}
