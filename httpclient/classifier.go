package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/sony/gobreaker/v2"
)

// error.type values for transport failures.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeCircuitOpen       = "circuit_open"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeUnknown           = "unknown"
)

// classifyError labels a transport error for spans and metrics.
func classifyError(err error) string {
	var (
		netErr    net.Error
		dnsErr    *net.DNSError
		recordErr tls.RecordHeaderError
		certErr   *tls.CertificateVerificationError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTypeTimeout
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrorTypeCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return ErrorTypeRateLimited
	case errors.As(err, &dnsErr):
		return ErrorTypeDNSError
	case errors.As(err, &recordErr), errors.As(err, &certErr):
		return ErrorTypeTLSError
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorTypeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrorTypeConnectionReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorTypeEOF
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorTypePatterns {
		if strings.Contains(msg, p.pattern) {
			return p.errorType
		}
	}
	return ErrorTypeUnknown
}

// errorTypePatterns catch wrapped errors whose types were lost.
var errorTypePatterns = []struct {
	pattern   string
	errorType string
}{
	{"timeout", ErrorTypeTimeout},
	{"connection refused", ErrorTypeConnectionRefused},
	{"connection reset", ErrorTypeConnectionReset},
	{"no such host", ErrorTypeDNSError},
	{"x509", ErrorTypeTLSError},
	{"tls", ErrorTypeTLSError},
	{"certificate", ErrorTypeTLSError},
	{"eof", ErrorTypeEOF},
}

// RetryClassifier decides whether an attempt is worth repeating.
// resp is nil when err is not.
//
// Example - also retry 500:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	    httpclient.WithRetryClassifier(func(resp *http.Response, err error) bool {
//	        if resp != nil && resp.StatusCode == http.StatusInternalServerError {
//	            return true
//	        }
//	        return httpclient.DefaultClassifier(resp, err)
//	    }),
//	)
type RetryClassifier func(resp *http.Response, err error) bool

// DefaultClassifier retries transient network errors and 429, 502, 503 and
// 504. It never retries cancellation, deadlines, an open circuit, the rate
// limiter, or errors that will fail the same way again (TLS verification,
// NXDOMAIN).
func DefaultClassifier(resp *http.Response, err error) bool {
	if err == nil {
		return resp != nil && isRetryableStatusCode(resp.StatusCode)
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	case errors.Is(err, ErrRateLimited):
		return false
	case isPermanentError(err):
		return false
	}

	// Unknown transport errors are assumed transient.
	return true
}

// StatusCodeClassifier retries the given statuses and transient network
// errors.
//
// Example:
//
//	classifier := httpclient.StatusCodeClassifier(500, 502, 503, 504)
func StatusCodeClassifier(codes ...int) RetryClassifier {
	set := make(map[int]bool, len(codes))
	for _, code := range codes {
		set[code] = true
	}

	return func(resp *http.Response, err error) bool {
		if err != nil {
			return isRetryableNetworkError(err) && !isPermanentError(err)
		}
		return resp != nil && set[resp.StatusCode]
	}
}

// NeverRetryClassifier disables retries while keeping a RetryConfig around.
func NeverRetryClassifier() RetryClassifier {
	return func(*http.Response, error) bool { return false }
}

func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isRetryableNetworkError reports errors that usually clear up on their own.
func isRetryableNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ETIMEDOUT,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"i/o timeout",
		"server closed",
		"broken pipe",
		"eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// isPermanentError reports errors that will fail the same way on retry.
func isPermanentError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"x509:", "certificate", "tls:", "no route to host", "permission denied"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
