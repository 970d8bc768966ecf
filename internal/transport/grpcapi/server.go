package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/action"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/browser"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/store"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
	"github.com/puppeteer-mcp/puppeteer-mcp/pkg/version"
)

// Server implements the three gRPC services over the shared
// application layer.
type Server struct {
	cfg      *config.Config
	gate     *auth.Gate
	sessions *session.Service
	pages    *pages.Manager
	exec     *action.Executor
	pool     *browser.Pool
	store    store.Store
}

// NewServer wires the gRPC surface.
func NewServer(cfg *config.Config, gate *auth.Gate, sessions *session.Service, pm *pages.Manager, exec *action.Executor, pool *browser.Pool, st store.Store) *Server {
	return &Server{cfg: cfg, gate: gate, sessions: sessions, pages: pm, exec: exec, pool: pool, store: st}
}

// GRPCServer builds a grpc.Server with the interceptor chain and all
// services registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.unaryInterceptor))
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Register attaches the service descriptors to an existing server.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&sessionServiceDesc, s)
	gs.RegisterService(&contextServiceDesc, s)
	gs.RegisterService(&healthServiceDesc, s)
}

// method builds a MethodDesc for a typed handler, keeping the JSON
// codec and interceptor plumbing in one place.
func method[Req any, Resp any](service, name string, fn func(s *Server, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(*Server)
			h := func(ctx context.Context, req any) (any, error) {
				return fn(server, ctx, req.(*Req))
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, h)
		},
	}
}

const (
	sessionServiceName = "puppeteer.v1.SessionService"
	contextServiceName = "puppeteer.v1.ContextService"
	healthServiceName  = "puppeteer.v1.HealthService"
)

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		method(sessionServiceName, "Create", (*Server).sessionCreate),
		method(sessionServiceName, "Get", (*Server).sessionGet),
		method(sessionServiceName, "Update", (*Server).sessionUpdate),
		method(sessionServiceName, "Delete", (*Server).sessionDelete),
		method(sessionServiceName, "List", (*Server).sessionList),
		method(sessionServiceName, "Refresh", (*Server).sessionRefresh),
		method(sessionServiceName, "Validate", (*Server).sessionValidate),
	},
}

var contextServiceDesc = grpc.ServiceDesc{
	ServiceName: contextServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		method(contextServiceName, "Create", (*Server).contextCreate),
		method(contextServiceName, "Get", (*Server).contextGet),
		method(contextServiceName, "Delete", (*Server).contextDelete),
		method(contextServiceName, "List", (*Server).contextList),
		method(contextServiceName, "Execute", (*Server).contextExecute),
	},
}

var healthServiceDesc = grpc.ServiceDesc{
	ServiceName: healthServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		method(healthServiceName, "Check", (*Server).healthCheck),
	},
}

// Session service handlers.

func (s *Server) sessionCreate(ctx context.Context, req *SessionCreateRequest) (*SessionCreateResponse, error) {
	res, err := s.sessions.Create(ctx, auth.MustPrincipal(ctx), session.CreateParams{
		Username: req.Username,
		Password: req.Password,
		Roles:    req.Roles,
		Metadata: req.Metadata,
		TTL:      time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &SessionCreateResponse{Session: res.Session, Token: res.Token}, nil
}

func (s *Server) sessionGet(ctx context.Context, req *SessionGetRequest) (*types.Session, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceSession, auth.ActRead); err != nil {
		return nil, err
	}
	return s.sessions.Get(ctx, principal, req.ID)
}

func (s *Server) sessionUpdate(ctx context.Context, req *SessionUpdateRequest) (*types.Session, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceSession, auth.ActWrite); err != nil {
		return nil, err
	}
	return s.sessions.Update(ctx, principal, req.ID, maskData(req.Data, req.UpdateMask))
}

// maskData keeps only the fields named by the update mask. An empty
// mask applies every populated field.
func maskData(data types.SessionData, mask []string) types.SessionData {
	if len(mask) == 0 {
		return data
	}
	var out types.SessionData
	for _, field := range mask {
		switch field {
		case "username":
			out.Username = data.Username
		case "roles":
			out.Roles = data.Roles
		case "metadata":
			out.Metadata = data.Metadata
		}
	}
	return out
}

func (s *Server) sessionDelete(ctx context.Context, req *SessionDeleteRequest) (*SessionDeleteResponse, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceSession, auth.ActDelete); err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, principal, req.ID); err != nil {
		return nil, err
	}
	return &SessionDeleteResponse{Deleted: true}, nil
}

func (s *Server) sessionList(ctx context.Context, _ *SessionListRequest) (*SessionListResponse, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceSession, auth.ActRead); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.List(ctx, principal)
	if err != nil {
		return nil, err
	}
	return &SessionListResponse{Sessions: sessions}, nil
}

func (s *Server) sessionRefresh(ctx context.Context, req *SessionGetRequest) (*types.Session, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceSession, auth.ActWrite); err != nil {
		return nil, err
	}
	return s.sessions.Refresh(ctx, principal, req.ID)
}

func (s *Server) sessionValidate(ctx context.Context, req *SessionValidateRequest) (*SessionValidateResponse, error) {
	valid, err := s.sessions.Validate(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &SessionValidateResponse{Valid: valid}, nil
}

// Context service handlers.

func (s *Server) contextCreate(ctx context.Context, req *ContextCreateRequest) (*types.ContextInfo, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceContext, auth.ActWrite); err != nil {
		return nil, err
	}
	info := s.pages.CreateContext(principal, req.Name)
	return &info, nil
}

func (s *Server) contextGet(ctx context.Context, req *ContextGetRequest) (*types.ContextInfo, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceContext, auth.ActRead); err != nil {
		return nil, err
	}
	info, err := s.pages.GetContext(principal, req.ID)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Server) contextDelete(ctx context.Context, req *ContextDeleteRequest) (*ContextDeleteResponse, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceContext, auth.ActDelete); err != nil {
		return nil, err
	}
	if err := s.pages.DeleteContext(principal, req.ID); err != nil {
		return nil, err
	}
	return &ContextDeleteResponse{Deleted: true}, nil
}

func (s *Server) contextList(ctx context.Context, _ *ContextListRequest) (*ContextListResponse, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceContext, auth.ActRead); err != nil {
		return nil, err
	}
	return &ContextListResponse{Contexts: s.pages.ListContexts(principal)}, nil
}

func (s *Server) contextExecute(ctx context.Context, req *ContextExecuteRequest) (*types.ActionResult, error) {
	principal := auth.MustPrincipal(ctx)
	if err := s.gate.Authorize(principal, auth.ResourceAction, auth.ActExecute); err != nil {
		return nil, err
	}
	pageID, err := s.pages.EnsureContextPage(ctx, principal, req.ContextID)
	if err != nil {
		return nil, err
	}
	act := req.Action
	act.PageID = pageID
	result := s.exec.Execute(ctx, principal, act)
	return &result, nil
}

// Health service handler.

func (s *Server) healthCheck(ctx context.Context, _ *HealthCheckRequest) (*HealthCheckResponse, error) {
	storeOK := s.store.Ping(ctx) == nil
	status := "ok"
	if !storeOK || !s.pool.Healthy() {
		status = "degraded"
	}
	return &HealthCheckResponse{
		Status:       status,
		Version:      version.Full(),
		Pool:         s.pool.Metrics(),
		StoreHealthy: storeOK,
	}, nil
}
