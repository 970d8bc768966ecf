package middleware

import (
	"net/http"
	"strings"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
)

// publicPaths are reachable without credentials so load balancers and
// scrapers keep working.
var publicPaths = map[string]struct{}{
	"/health":              {},
	"/metrics":             {},
	"/api/v1/health":       {},
	"/api/v1/health/live":  {},
	"/api/v1/health/ready": {},
}

// isPublic reports whether the request may proceed unauthenticated.
// Login carries its credentials in the body, not in auth headers.
func isPublic(r *http.Request) bool {
	if _, ok := publicPaths[r.URL.Path]; ok {
		return true
	}
	return r.Method == http.MethodPost && r.URL.Path == "/api/v1/sessions"
}

// CredentialsFrom extracts the supported credential carriers from a
// request: a bearer token, an API key header, or a session ID header.
func CredentialsFrom(r *http.Request) auth.Credentials {
	creds := auth.Credentials{
		APIKey:    r.Header.Get("X-API-Key"),
		SessionID: r.Header.Get("X-Session-Id"),
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			creds.BearerToken = token
		}
	}
	return creds
}

// Authenticate resolves request credentials through the gate and stores
// the principal on the context. Requests without valid credentials get
// a 401 envelope; public paths pass through unauthenticated.
func Authenticate(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := CredentialsFrom(r)
			if isPublic(r) {
				// Credentials on a public route are honored when valid
				// so admins keep their role, but never block the call.
				if creds.BearerToken != "" || creds.APIKey != "" || creds.SessionID != "" {
					if p, err := gate.Authenticate(r.Context(), creds); err == nil {
						r = r.WithContext(auth.WithPrincipal(r.Context(), p))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			principal, err := gate.Authenticate(r.Context(), creds)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
