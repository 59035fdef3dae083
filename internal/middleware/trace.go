// Package middleware holds the HTTP middleware shared by the service binaries.
package middleware

import (
	"context"
	"net/http"

	"github.com/oklog/ulid/v2"
)

const (
	// TraceHeader carries the trace id on requests and responses.
	TraceHeader = "X-Trace-ID"
	// gatewayTraceHeader is what the payment gateways in front of the wallet
	// forward on provider callbacks.
	gatewayTraceHeader = "X-Correlation-ID"

	maxTraceIDLength = 64
)

type traceKey struct{}

// Trace tags every request with a trace id so one payment can be followed
// across the request log, callbacks and notifications. An inbound id is kept
// only when it is safe to write into a log line; otherwise a ULID is minted.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := inboundTraceID(r)
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set(TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), id)))
	})
}

func inboundTraceID(r *http.Request) string {
	for _, h := range []string{TraceHeader, gatewayTraceHeader} {
		if id := r.Header.Get(h); validTraceID(id) {
			return id
		}
	}
	return ""
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the id Trace attached to ctx, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
