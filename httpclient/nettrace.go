package httpclient

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// connTrace collects the connection phases of one attempt.
type connTrace struct {
	mu sync.Mutex

	dnsStart, dnsDone         time.Time
	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time
	wroteRequest, firstByte   time.Time

	reused     bool
	remoteAddr string
	alpn       string
}

// withConnTrace returns ctx instrumented to fill ct.
func withConnTrace(ctx context.Context, ct *connTrace) context.Context {
	stamp := func(t *time.Time) func() {
		return func() {
			ct.mu.Lock()
			*t = time.Now()
			ct.mu.Unlock()
		}
	}

	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			ct.mu.Lock()
			defer ct.mu.Unlock()
			ct.reused = info.Reused
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				ct.remoteAddr = info.Conn.RemoteAddr().String()
			}
		},
		DNSStart:          func(httptrace.DNSStartInfo) { stamp(&ct.dnsStart)() },
		DNSDone:           func(httptrace.DNSDoneInfo) { stamp(&ct.dnsDone)() },
		ConnectStart:      func(_, _ string) { stamp(&ct.connectStart)() },
		ConnectDone:       func(_, _ string, _ error) { stamp(&ct.connectDone)() },
		TLSHandshakeStart: stamp(&ct.tlsStart),
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			ct.mu.Lock()
			defer ct.mu.Unlock()
			ct.tlsDone = time.Now()
			ct.alpn = state.NegotiatedProtocol
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { stamp(&ct.wroteRequest)() },
		GotFirstResponseByte: stamp(&ct.firstByte),
	})
}

// annotate adds the collected phases to span as events.
func (ct *connTrace) annotate(span trace.Span) {
	if !span.IsRecording() {
		return
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()

	phase := func(name string, start, done time.Time, attrs ...attribute.KeyValue) {
		if start.IsZero() || done.IsZero() {
			return
		}
		attrs = append(attrs, attribute.Int64(name+".duration_ms", done.Sub(start).Milliseconds()))
		span.AddEvent(name, trace.WithTimestamp(done), trace.WithAttributes(attrs...))
	}

	phase("dns", ct.dnsStart, ct.dnsDone)
	phase("connect", ct.connectStart, ct.connectDone)
	phase("tls", ct.tlsStart, ct.tlsDone, attribute.String("tls.alpn", ct.alpn))
	phase("ttfb", ct.wroteRequest, ct.firstByte)

	span.SetAttributes(attribute.Bool("http.connection.reused", ct.reused))
	if ct.remoteAddr != "" {
		span.SetAttributes(attribute.String("network.peer.address", ct.remoteAddr))
	}
}
