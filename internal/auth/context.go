package auth

import (
	"context"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

type contextKey int

const principalKey contextKey = iota

// WithPrincipal attaches the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the principal placed by the auth gate.
func PrincipalFrom(ctx context.Context) (types.Principal, bool) {
	p, ok := ctx.Value(principalKey).(types.Principal)
	return p, ok
}

// MustPrincipal returns the context principal or an anonymous one when
// the request skipped authentication (public endpoints).
func MustPrincipal(ctx context.Context) types.Principal {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return types.Principal{UserID: "anonymous"}
	}
	return p
}
