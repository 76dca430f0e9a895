package httpclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Ready-made BeforeCall hooks. They write through call.Request so the change
// survives SendAgain and is considered for redirect forwarding.

// BearerToken sets "Authorization: Bearer <token>".
func BearerToken(token string) Hook {
	return func(_ context.Context, call *Call) error {
		call.Request.Header("Authorization", "Bearer "+token)
		return nil
	}
}

// BearerTokenFunc fetches the token on every attempt, which makes it suitable
// for refreshable credentials.
//
// Example - refresh on 401 and resend:
//
//	client := httpclient.New(
//	    httpclient.WithBeforeCall(httpclient.BearerTokenFunc(tokens.Current)),
//	    httpclient.WithOnError(func(ctx context.Context, call *httpclient.Call) error {
//	        if call.Response == nil || call.Response.StatusCode != http.StatusUnauthorized {
//	            return nil
//	        }
//	        tokens.Refresh(ctx)
//	        if _, err := call.SendAgain(); err != nil {
//	            return err
//	        }
//	        call.ErrHandled = true
//	        return nil
//	    }),
//	)
func BearerTokenFunc(token func(ctx context.Context) (string, error)) Hook {
	return func(ctx context.Context, call *Call) error {
		t, err := token(ctx)
		if err != nil {
			return fmt.Errorf("httpclient: bearer token: %w", err)
		}
		call.Request.Header("Authorization", "Bearer "+t)
		return nil
	}
}

// APIKey sets header to key.
func APIKey(header, key string) Hook {
	return func(_ context.Context, call *Call) error {
		call.Request.Header(header, key)
		return nil
	}
}

// UserAgent sets the User-Agent header.
func UserAgent(userAgent string) Hook {
	return func(_ context.Context, call *Call) error {
		call.Request.Header("User-Agent", userAgent)
		return nil
	}
}

// CorrelationID sets header to the call ID unless the request already has
// one. The ID stays stable across SendAgain and retries.
func CorrelationID(header string) Hook {
	return func(_ context.Context, call *Call) error {
		if call.Request.headers.Get(header) != "" {
			return nil
		}
		id := call.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		call.Request.Header(header, id.String())
		return nil
	}
}
