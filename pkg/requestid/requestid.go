// Package requestid carries a per-request identifier through contexts and
// HTTP headers.
package requestid

import (
	"context"
	"net/http"

	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/google/uuid"
)

// Header is the HTTP header holding the request ID.
const Header = "X-Request-Id"

type contextKey int

const requestIDKey contextKey = iota

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// FromContext returns the request ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// HTTPToContext takes the request ID from the incoming request, generating
// one when the header is missing. Primarily useful in a server.
func HTTPToContext() httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.New().String()
		}
		return NewContext(ctx, id)
	}
}

// ContextToHTTPResponse echoes the request ID back to the caller.
func ContextToHTTPResponse() httptransport.ServerResponseFunc {
	return func(ctx context.Context, w http.ResponseWriter) context.Context {
		if id := FromContext(ctx); id != "" {
			w.Header().Set(Header, id)
		}
		return ctx
	}
}

// ContextToHTTP forwards the request ID on outgoing requests. Primarily
// useful in a client.
func ContextToHTTP() httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		if id := FromContext(ctx); id != "" {
			r.Header.Set(Header, id)
		}
		return ctx
	}
}
