// Package mcpserver exposes the control plane to agent tooling over
// the Model Context Protocol: a fixed tool set plus health and
// catalog resources, served over stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"io"
	"net/http"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/action"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/store"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport"
	"github.com/puppeteer-mcp/puppeteer-mcp/pkg/version"
)

// Server bridges MCP tool calls to the application layer.
type Server struct {
	cfg      *config.Config
	gate     *auth.Gate
	sessions *session.Service
	router   *transport.Router
	pool     *browser.Pool
	store    store.Store

	mcp *mcpserver.MCPServer
}

// NewServer builds the MCP surface with every tool and resource
// registered.
func NewServer(cfg *config.Config, gate *auth.Gate, sessions *session.Service, pm *pages.Manager, exec *action.Executor, pool *browser.Pool, st store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		gate:     gate,
		sessions: sessions,
		router:   transport.NewRouter(gate, sessions, pm, exec),
		pool:     pool,
		store:    st,
	}
	s.mcp = mcpserver.NewMCPServer(
		"puppeteer-mcp",
		version.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio blocks servicing MCP frames on stdin/stdout until the
// context is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serveStdio(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	log.Info().Msg("MCP stdio transport listening")
	return mcpserver.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// HTTPHandler serves the streamable HTTP transport. Credentials on
// the HTTP request authenticate the whole MCP session.
func (s *Server) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithHTTPContextFunc(s.httpContext),
	)
}

func (s *Server) httpContext(ctx context.Context, r *http.Request) context.Context {
	creds := middleware.CredentialsFrom(r)
	if creds.BearerToken == "" && creds.APIKey == "" && creds.SessionID == "" {
		return ctx
	}
	principal, err := s.gate.Authenticate(ctx, creds)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("MCP HTTP authentication failed")
		return ctx
	}
	return auth.WithPrincipal(ctx, principal)
}
