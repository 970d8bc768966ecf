package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport/grpcapi"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport/mcpserver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport/rest"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport/ws"
	"github.com/puppeteer-mcp/puppeteer-mcp/pkg/version"
)

const shutdownTimeout = 30 * time.Second

// Server runs every enabled transport over one Services instance.
type Server struct {
	cfg *config.Config
	svc *Services

	httpSrv *http.Server
	grpcSrv *grpc.Server
	mcpSrv  *mcpserver.Server
	mcpHTTP *http.Server
	wsHub   *ws.Handler

	stopCh chan struct{}
}

// New wires the transports onto the given services.
func New(cfg *config.Config, svc *Services) *Server {
	s := &Server{cfg: cfg, svc: svc, stopCh: make(chan struct{})}

	api := rest.NewAPI(cfg, svc.Gate, svc.Sessions, svc.Pages, svc.Executor, svc.Pool, svc.Store)
	mux := http.NewServeMux()
	if cfg.WSEnabled {
		s.wsHub = ws.NewHandler(cfg, svc.Gate, svc.Sessions, svc.Pages, svc.Executor, svc.Pool)
		mux.Handle(cfg.WSPath, s.wsHub)
	}
	mux.Handle("/", api.Router())

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	gsrv := grpcapi.NewServer(cfg, svc.Gate, svc.Sessions, svc.Pages, svc.Executor, svc.Pool, svc.Store)
	var grpcOpts []grpc.ServerOption
	if cfg.TLSEnabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err == nil {
			grpcOpts = append(grpcOpts, grpc.Creds(creds))
		} else {
			log.Error().Err(err).Msg("Loading gRPC TLS credentials failed, serving plaintext")
		}
	}
	s.grpcSrv = gsrv.GRPCServer(grpcOpts...)

	s.mcpSrv = mcpserver.NewServer(cfg, svc.Gate, svc.Sessions, svc.Pages, svc.Executor, svc.Pool, svc.Store)
	if cfg.MCPTransport == "http" {
		s.mcpHTTP = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.MCPPort),
			Handler:           s.mcpSrv.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s
}

// Run starts every transport and blocks until the context is canceled
// or a listener fails, then shuts everything down in order.
func (s *Server) Run(ctx context.Context) error {
	metrics.SetBuildInfo(version.Full(), version.GoVersion())
	go metrics.StartMemoryCollector(10*time.Second, s.stopCh)

	errCh := make(chan error, 4)

	go func() {
		log.Info().Str("addr", s.httpSrv.Addr).Bool("tls", s.cfg.TLSEnabled).Msg("HTTP server listening")
		var err error
		if s.cfg.TLSEnabled {
			err = s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	grpcAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go func() {
		log.Info().Str("addr", grpcAddr).Msg("gRPC server listening")
		if err := s.grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	mcpCtx, cancelMCP := context.WithCancel(ctx)
	defer cancelMCP()
	switch {
	case s.mcpHTTP != nil:
		go func() {
			log.Info().Str("addr", s.mcpHTTP.Addr).Msg("MCP HTTP transport listening")
			if err := s.mcpHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("mcp http server: %w", err)
			}
		}()
	default:
		go func() {
			if err := s.mcpSrv.ServeStdio(mcpCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("mcp stdio server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Transport failed, shutting down")
	}

	s.shutdown()
	return runErr
}

// shutdown stops transports before tearing down services so in-flight
// requests finish against live components.
func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	close(s.stopCh)

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if s.mcpHTTP != nil {
		if err := s.mcpHTTP.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("MCP HTTP server shutdown error")
		}
	}

	done := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}

	if s.wsHub != nil {
		s.wsHub.Close()
	}

	s.svc.Close(ctx)
	log.Info().Msg("Shutdown complete")
}
