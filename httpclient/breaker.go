package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore shares breaker state through Redis, so every instance of a
// service opens and closes the breaker together.
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := httpclient.DefaultBreakerConfig()
//	cfg.Store = httpclient.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerClassifier reports whether an attempt counts as a breaker failure.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the circuit breaker layer of the transport chain.
//
// The breaker sits below tracing and above the rate limiter, so every
// attempt of every call to the client passes through it, redirects and
// retries included.
type BreakerConfig struct {
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval is the closed-state period after which counts are cleared.
	// 0 never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests in the interval
	// before FailureRatio is considered.
	FailureThreshold uint32

	// FailureRatio trips the breaker once failures/requests reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after that many failures in a row.
	ConsecutiveFailures uint32

	// Store shares breaker state across processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier defaults to DefaultBreakerClassifier.
	Classifier BreakerClassifier

	// OnStateChange is called after every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig trips after 5 consecutive failures, or a 50% failure
// ratio over at least 20 requests, and probes again after 10s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DefaultBreakerClassifier counts network errors and 5xx responses.
// Client errors and cancellation never trip the breaker.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// responseBreaker is satisfied by both the in-memory and the distributed
// gobreaker implementations.
type responseBreaker interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

// errBreakerFailure lets a failing response count against the breaker while
// still being returned to the caller.
var errBreakerFailure = errors.New("httpclient: response counted as breaker failure")

type breakerTransport struct {
	breaker    responseBreaker
	next       http.RoundTripper
	classifier BreakerClassifier
}

// RoundTrip implements http.RoundTripper.
func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose // returned to the caller
		if t.classifier(resp, err) && err == nil {
			return resp, errBreakerFailure
		}
		return resp, err
	})
	if errors.Is(err, errBreakerFailure) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// newBreakerTransport wraps next, or returns it unchanged when no breaker is
// configured.
func newBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	bc := cfg.BreakerConfig
	if bc == nil {
		return next
	}

	classifier := bc.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	name := cfg.ServiceName
	if name == "" {
		name = "fluentrest"
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			if bc.FailureRatio <= 0 || counts.Requests == 0 || counts.Requests < bc.FailureThreshold {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if errors.Is(err, errBreakerFailure) {
				return false
			}
			return err == nil || !classifier(nil, err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerStateChange(context.Background(), from.String(), to.String(), cfg.baseAttributes())
			cfg.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb responseBreaker = gobreaker.NewCircuitBreaker[*http.Response](st)
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](bc.Store, st)
		if err != nil {
			cfg.Logger.Warn().Err(err).Msg("distributed circuit breaker unavailable, using in-memory state")
		} else {
			cb = dcb
		}
	}

	return &breakerTransport{
		breaker:    cb,
		next:       next,
		classifier: classifier,
	}
}
