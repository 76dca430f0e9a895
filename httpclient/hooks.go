package httpclient

import (
	"context"

	"github.com/kroma-labs/fluentrest-go/settings"
)

// Hook observes or alters a call at one point of its lifecycle.
//
// A BeforeCall hook may change call.Request (headers, cookies, URL); the HTTP
// request is synced afterwards. An OnError hook may set call.ErrHandled to
// return the response instead of the error. An OnRedirect hook may veto or
// rewrite call.Redirect. An error returned by any hook aborts the call and is
// returned as-is.
type Hook func(ctx context.Context, call *Call) error

// Hook keys. The most specific layer that sets a hook wins.
var (
	BeforeCallKey = settings.NewKey[Hook]("BeforeCall")
	AfterCallKey  = settings.NewKey[Hook]("AfterCall")
	OnErrorKey    = settings.NewKey[Hook]("OnError")
	OnRedirectKey = settings.NewKey[Hook]("OnRedirect")
)

// ChainHooks runs hooks in order and stops at the first error. Nil hooks are
// skipped.
//
// Example - keep the client hook when adding a request hook:
//
//	req.BeforeCall(httpclient.ChainHooks(
//	    settings.Get(client.Settings(), httpclient.BeforeCallKey),
//	    httpclient.UserAgent("billing/1.4"),
//	))
func ChainHooks(hooks ...Hook) Hook {
	return func(ctx context.Context, call *Call) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, call); err != nil {
				return err
			}
		}
		return nil
	}
}

// runHook invokes the hook resolved for key, if any.
func runHook(ctx context.Context, s *settings.Settings, key settings.Key[Hook], call *Call) error {
	h := settings.Get(s, key)
	if h == nil {
		return nil
	}
	return h(ctx, call)
}
