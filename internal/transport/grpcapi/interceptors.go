package grpcapi

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// publicMethods bypass authentication: health checks and login.
var publicMethods = map[string]struct{}{
	"/puppeteer.v1.HealthService/Check":     {},
	"/puppeteer.v1.SessionService/Create":   {},
	"/puppeteer.v1.SessionService/Validate": {},
}

func mdValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// credentialsFromMD extracts the same credential carriers the HTTP
// surface accepts, from gRPC metadata.
func credentialsFromMD(md metadata.MD) auth.Credentials {
	creds := auth.Credentials{
		APIKey:    mdValue(md, "x-api-key"),
		SessionID: mdValue(md, "x-session-id"),
	}
	if h := mdValue(md, "authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			creds.BearerToken = token
		}
	}
	return creds
}

// unaryInterceptor authenticates, logs, recovers from panics, and maps
// errors to gRPC status codes for every unary call.
func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	md, _ := metadata.FromIncomingContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("method", info.FullMethod).
				Msg("Panic recovered in gRPC handler")
			err = toStatus(types.NewInternalError(nil))
		}
	}()

	if _, public := publicMethods[info.FullMethod]; !public {
		principal, authErr := s.gate.Authenticate(ctx, credentialsFromMD(md))
		if authErr != nil {
			return nil, toStatus(authErr)
		}
		ctx = auth.WithPrincipal(ctx, principal)
	} else {
		creds := credentialsFromMD(md)
		if creds.BearerToken != "" || creds.APIKey != "" || creds.SessionID != "" {
			if p, authErr := s.gate.Authenticate(ctx, creds); authErr == nil {
				ctx = auth.WithPrincipal(ctx, p)
			}
		}
	}

	resp, err = handler(ctx, req)
	err = toStatus(err)

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.
		Str("method", info.FullMethod).
		Dur("duration", time.Since(start)).
		Str("request_id", mdValue(md, "x-request-id")).
		Msg("gRPC call completed")
	return resp, err
}
