package httpclient

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*LinearBackOff)(nil)
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
)

// LinearBackOff waits Initial, then grows by Step per retry up to Max, each
// wait randomized by ±Jitter.
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	    httpclient.WithRetryBackOff(httpclient.NewLinearBackOff()),
//	)
type LinearBackOff struct {
	Initial time.Duration
	Step    time.Duration
	Max     time.Duration
	// Jitter is a factor in [0, 1].
	Jitter float64

	retries int
}

// NewLinearBackOff starts at 500ms, steps by 500ms, caps at 30s, ±50% jitter.
func NewLinearBackOff() *LinearBackOff {
	return &LinearBackOff{
		Initial: 500 * time.Millisecond,
		Step:    500 * time.Millisecond,
		Max:     30 * time.Second,
		Jitter:  0.5,
	}
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.retries = 0
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	d := b.Initial + time.Duration(b.retries)*b.Step
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	b.retries++
	return jitter(d, b.Jitter)
}

// DecorrelatedJitterBackOff picks each wait at random between Base and three
// times the previous wait, capped at Cap. Concurrent retriers spread out
// more than with plain jitter.
type DecorrelatedJitterBackOff struct {
	Base time.Duration
	Cap  time.Duration

	prev time.Duration
}

// NewDecorrelatedJitterBackOff uses a 500ms base and a 30s cap.
func NewDecorrelatedJitterBackOff() *DecorrelatedJitterBackOff {
	return &DecorrelatedJitterBackOff{
		Base: 500 * time.Millisecond,
		Cap:  30 * time.Second,
	}
}

// Reset implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) Reset() {
	b.prev = 0
}

// NextBackOff implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	prev := max(b.prev, b.Base)
	b.prev = between(b.Base, min(b.Cap, prev*3))
	return b.prev
}

// jitter spreads d uniformly over [d(1-f), d(1+f)].
func jitter(d time.Duration, f float64) time.Duration {
	if f <= 0 || d <= 0 {
		return d
	}
	f = min(f, 1)
	lo := float64(d) * (1 - f)
	//nolint:gosec // jitter does not need a secure source
	return time.Duration(lo + rand.Float64()*float64(d)*2*f)
}

// between returns a random duration in [lo, hi).
func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	//nolint:gosec // jitter does not need a secure source
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}
