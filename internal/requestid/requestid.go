// Package requestid carries the per-request correlation ID used in every
// client-visible error envelope (spec §6). It lives below both
// internal/httpserver and pkg/identity so either can read the ID without
// the other importing it: httpserver mounts the middleware and identity's
// auth middleware, which runs deeper in the chain, only needs the accessor.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{}

// Middleware assigns a request-scoped UUID, echoing an inbound
// X-Request-ID header when present, and stashes it in the response header
// and context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), contextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request ID stashed by Middleware, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
