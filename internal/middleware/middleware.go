// Package middleware provides the HTTP middleware shared by the REST and
// WebSocket surfaces: request IDs, authentication, rate limiting, CORS,
// logging, and panic recovery.
package middleware

import "net/http"

// Chain composes middleware so Chain(A, B, C)(h) executes A(B(C(h))).
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
