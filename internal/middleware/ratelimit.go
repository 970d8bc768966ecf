package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// RateLimit limits requests per minute, keyed by the authenticated user
// when present and by client IP otherwise. Spoofable forwarding headers
// are only honored when the deployment declares a trusted proxy.
func RateLimit(cfg *config.Config) func(http.Handler) http.Handler {
	if !cfg.RateLimitEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RateLimitRPM,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p, ok := auth.PrincipalFrom(r.Context()); ok && p.UserID != "" {
				return "user:" + p.UserID, nil
			}
			return "ip:" + clientIP(r, cfg.TrustProxy), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			WriteError(w, r, types.Errorf(types.ErrRateLimited, "limit is %d requests per minute", cfg.RateLimitRPM))
		}),
	)
}

// clientIP resolves the caller address. X-Forwarded-For and X-Real-IP
// are attacker-controlled unless a trusted proxy strips them.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := xff
			if idx := strings.Index(xff, ","); idx > 0 {
				first = xff[:idx]
			}
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
