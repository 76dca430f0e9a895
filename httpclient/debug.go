package httpclient

import (
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// curlCommand renders req as an equivalent cURL command line.
// Authorization values are masked.
//
//	curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"John"}'
func curlCommand(req *http.Request, body []byte) string {
	parts := []string{"curl"}

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}
	parts = append(parts, shellQuote(req.URL.String()))

	for _, k := range slices.Sorted(maps.Keys(req.Header)) {
		for _, v := range req.Header[k] {
			if strings.EqualFold(k, "Authorization") {
				v = maskCredential(v)
			}
			parts = append(parts, "-H", shellQuote(k+": "+v))
		}
	}

	if len(body) > 0 {
		parts = append(parts, "-d", shellQuote(string(body)))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// maskCredential keeps the auth scheme and hides the credential.
func maskCredential(v string) string {
	if scheme, _, ok := strings.Cut(v, " "); ok {
		return scheme + " ***"
	}
	return "***"
}

func logRequest(logger zerolog.Logger, call *Call) {
	logger.Debug().
		Str("call_id", call.ID.String()).
		Str("method", call.HTTPRequest.Method).
		Str("url", redactedURL(call.HTTPRequest.URL)).
		Int("retry", call.RetryCount).
		Msg("HTTP request")
}

func logResponse(logger zerolog.Logger, call *Call) {
	resp := call.Response
	if resp == nil {
		return
	}
	logger.Debug().
		Str("call_id", call.ID.String()).
		Int("status", resp.StatusCode).
		Dur("duration", call.Duration()).
		Int64("content_length", resp.ContentLength).
		Msg("HTTP response")
}

func logRedirect(logger zerolog.Logger, call *Call) {
	intent := call.Redirect
	if intent == nil {
		return
	}
	ev := logger.Debug().
		Str("call_id", call.ID.String()).
		Str("from", call.String()).
		Str("state", intent.State.String()).
		Int("count", intent.Count)
	if intent.URL != nil {
		ev = ev.Str("to", redactedURL(intent.URL))
	}
	if intent.Reason != "" {
		ev = ev.Str("reason", intent.Reason)
	}
	ev.Msg("HTTP redirect")
}

func logCookieRejected(logger zerolog.Logger, call *Call, header, reason string) {
	name, _, _ := strings.Cut(header, "=")
	logger.Debug().
		Str("call_id", call.ID.String()).
		Str("cookie", strings.TrimSpace(name)).
		Str("host", call.HTTPRequest.URL.Host).
		Str("reason", reason).
		Msg("cookie rejected")
}
