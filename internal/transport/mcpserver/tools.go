package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/transport"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

func (s *Server) registerTools() {
	s.addTool("create-session",
		"Create a session (login). Returns the session and a bearer token for subsequent calls.",
		`{"type":"object","properties":{
			"username":{"type":"string"},
			"password":{"type":"string"},
			"roles":{"type":"array","items":{"type":"string"}},
			"ttlSeconds":{"type":"integer"}
		},"required":["username","password"]}`,
		s.createSession)

	s.addTool("list-sessions",
		"List sessions visible to the caller.",
		credSchema(nil, nil),
		s.listSessions)

	s.addTool("delete-session",
		"Delete a session and close its pages.",
		credSchema(map[string]string{"sessionId": "string"}, []string{"sessionId"}),
		s.deleteSession)

	s.addTool("create-browser-context",
		"Create a browser context owned by the caller's session.",
		credSchema(map[string]string{"name": "string"}, nil),
		s.createBrowserContext)

	s.addTool("execute-in-context",
		"Execute a browser action inside a context. A page is created on first use.",
		`{"type":"object","properties":{
			"contextId":{"type":"string"},
			"kind":{"type":"string"},
			"params":{"type":"object"},
			"timeoutMs":{"type":"integer"},
			"token":{"type":"string"},"apiKey":{"type":"string"},"sessionId":{"type":"string"}
		},"required":["contextId","kind"]}`,
		s.executeInContext)

	s.addTool("execute-api",
		"Call any catalog operation by method and path. See the api://catalog resource.",
		`{"type":"object","properties":{
			"method":{"type":"string"},
			"path":{"type":"string"},
			"body":{"type":"object"},
			"token":{"type":"string"},"apiKey":{"type":"string"},"sessionId":{"type":"string"}
		},"required":["method","path"]}`,
		s.executeAPI)

	s.addTool("list-endpoints",
		"List the operations execute-api understands.",
		`{"type":"object","properties":{}}`,
		s.listEndpoints)
}

// credSchema builds an object schema with the given properties plus
// the optional credential carriers every protected tool accepts.
func credSchema(props map[string]string, required []string) string {
	obj := map[string]any{"type": "object"}
	p := map[string]any{
		"token":     map[string]any{"type": "string"},
		"apiKey":    map[string]any{"type": "string"},
		"sessionId": map[string]any{"type": "string"},
	}
	for name, typ := range props {
		p[name] = map[string]any{"type": typ}
	}
	obj["properties"] = p
	if len(required) > 0 {
		obj["required"] = required
	}
	raw, _ := json.Marshal(obj)
	return string(raw)
}

type toolHandler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

func (s *Server) addTool(name, description, schema string, handler toolHandler) {
	tool := mcp.NewToolWithRawSchema(name, description, json.RawMessage(schema))
	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handler(ctx, req)
	})
}

// toolArgs re-decodes the argument map into a typed struct.
func toolArgs[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, types.Errorf(types.ErrBadArgument, "encoding tool arguments: %v", err)
	}
	return transport.DecodeData[T](raw)
}

type credArgs struct {
	Token     string `json:"token,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (c credArgs) empty() bool {
	return c.Token == "" && c.APIKey == "" && c.SessionID == ""
}

// principalFor resolves the caller: HTTP-session principal first, then
// credentials passed as tool arguments.
func (s *Server) principalFor(ctx context.Context, creds credArgs) (types.Principal, error) {
	if p, ok := auth.PrincipalFrom(ctx); ok {
		return p, nil
	}
	if creds.empty() {
		return types.Principal{}, types.ErrUnauthenticated
	}
	return s.gate.Authenticate(ctx, auth.Credentials{
		BearerToken: creds.Token,
		APIKey:      creds.APIKey,
		SessionID:   creds.SessionID,
	})
}

// jsonResult renders a tool result as a JSON text payload.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return errResult(types.NewInternalError(err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// errResult renders an application error as a tool error payload so
// agents see the stable code alongside the message.
func errResult(err error) *mcp.CallToolResult {
	wire := types.Classify(err).ToWire("")
	raw, merr := json.Marshal(map[string]any{"error": wire})
	if merr != nil {
		return mcp.NewToolResultError(wire.Code + ": " + wire.Message)
	}
	return mcp.NewToolResultError(string(raw))
}

type createSessionArgs struct {
	credArgs
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Roles      []string          `json:"roles,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
}

func (s *Server) createSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := toolArgs[createSessionArgs](req)
	if err != nil {
		return errResult(err), nil
	}
	// Login is public; an authenticated caller may still mint sessions
	// under its own authority (admins can set elevated roles).
	caller, _ := s.principalFor(ctx, args.credArgs)
	res, err := s.sessions.Create(ctx, caller, session.CreateParams{
		Username: args.Username,
		Password: args.Password,
		Roles:    args.Roles,
		Metadata: args.Metadata,
		TTL:      time.Duration(args.TTLSeconds) * time.Second,
	})
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := toolArgs[credArgs](req)
	if err != nil {
		return errResult(err), nil
	}
	principal, err := s.principalFor(ctx, args)
	if err != nil {
		return errResult(err), nil
	}
	result, err := s.router.Dispatch(ctx, principal, "GET", transport.APIPrefix+"/sessions", nil)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(map[string]any{"sessions": result})
}

type deleteSessionArgs struct {
	credArgs
	TargetID string `json:"sessionId"`
}

func (s *Server) deleteSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := toolArgs[deleteSessionArgs](req)
	if err != nil {
		return errResult(err), nil
	}
	principal, err := s.principalFor(ctx, args.credArgs)
	if err != nil {
		return errResult(err), nil
	}
	result, err := s.router.Dispatch(ctx, principal, "DELETE", transport.APIPrefix+"/sessions/"+args.TargetID, nil)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(result)
}

type createContextArgs struct {
	credArgs
	Name string `json:"name,omitempty"`
}

func (s *Server) createBrowserContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := toolArgs[createContextArgs](req)
	if err != nil {
		return errResult(err), nil
	}
	principal, err := s.principalFor(ctx, args.credArgs)
	if err != nil {
		return errResult(err), nil
	}
	body, _ := json.Marshal(map[string]string{"name": args.Name})
	result, err := s.router.Dispatch(ctx, principal, "POST", transport.APIPrefix+"/contexts", body)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(result)
}

type executeInContextArgs struct {
	credArgs
	ContextID string          `json:"contextId"`
	Kind      string          `json:"kind"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int             `json:"timeoutMs,omitempty"`
}

func (s *Server) executeInContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := toolArgs[executeInContextArgs](req)
	if err != nil {
		return errResult(err), nil
	}
	principal, err := s.principalFor(ctx, args.credArgs)
	if err != nil {
		return errResult(err), nil
	}
	act := types.Action{
		Kind:    types.ActionKind(args.Kind),
		Params:  args.Params,
		Timeout: args.TimeoutMs,
	}
	body, _ := json.Marshal(act)
	result, err := s.router.Dispatch(ctx, principal, "POST",
		transport.APIPrefix+"/contexts/"+args.ContextID+"/execute", body)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(result)
}

type executeAPIArgs struct {
	credArgs
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (s *Server) executeAPI(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := toolArgs[executeAPIArgs](req)
	if err != nil {
		return errResult(err), nil
	}
	principal, err := s.principalFor(ctx, args.credArgs)
	if err != nil && !transport.IsLogin(args.Method, args.Path) {
		return errResult(err), nil
	}
	result, err := s.router.Dispatch(ctx, principal, args.Method, args.Path, args.Body)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(result)
}

func (s *Server) listEndpoints(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"endpoints": transport.Catalog()})
}
