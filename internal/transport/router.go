// Package transport holds the operation router shared by the
// non-HTTP protocol adapters. WebSocket request frames and the MCP
// execute-api tool both name operations by the REST method and path,
// so one catalog serves every surface.
package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/action"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// APIPrefix is the versioned path prefix every operation lives under.
const APIPrefix = "/api/v1"

// Router dispatches method/path pairs to the application layer.
type Router struct {
	gate     *auth.Gate
	sessions *session.Service
	pages    *pages.Manager
	exec     *action.Executor
}

func NewRouter(gate *auth.Gate, sessions *session.Service, pm *pages.Manager, exec *action.Executor) *Router {
	return &Router{gate: gate, sessions: sessions, pages: pm, exec: exec}
}

// IsLogin reports whether an operation is the public session create,
// which authenticates via its body instead of carried credentials.
func IsLogin(method, path string) bool {
	return strings.EqualFold(method, "POST") && strings.TrimRight(path, "/") == APIPrefix+"/sessions"
}

// Endpoint describes one routable operation for the catalog resource.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Catalog lists every operation the router understands.
func Catalog() []Endpoint {
	return []Endpoint{
		{"POST", APIPrefix + "/sessions", "create a session (login)"},
		{"GET", APIPrefix + "/sessions", "list sessions visible to the caller"},
		{"GET", APIPrefix + "/sessions/{id}", "fetch a session"},
		{"DELETE", APIPrefix + "/sessions/{id}", "delete a session and close its pages"},
		{"POST", APIPrefix + "/sessions/{id}/refresh", "extend a session TTL"},
		{"POST", APIPrefix + "/contexts", "create a browser context"},
		{"GET", APIPrefix + "/contexts", "list browser contexts"},
		{"GET", APIPrefix + "/contexts/{id}", "fetch a browser context"},
		{"DELETE", APIPrefix + "/contexts/{id}", "delete a browser context"},
		{"POST", APIPrefix + "/contexts/{id}/execute", "execute an action in a context"},
		{"POST", APIPrefix + "/pages", "open a page"},
		{"GET", APIPrefix + "/pages", "list pages"},
		{"GET", APIPrefix + "/pages/{id}", "fetch page info"},
		{"DELETE", APIPrefix + "/pages/{id}", "close a page"},
		{"GET", APIPrefix + "/pages/{id}/history", "list recent actions on a page"},
		{"POST", APIPrefix + "/execute", "execute an action on a page"},
		{"POST", APIPrefix + "/execute/batch", "execute a batch of actions"},
	}
}

type sessionCreateData struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Roles      []string          `json:"roles,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
}

type batchData struct {
	Actions []types.Action     `json:"actions"`
	Options types.BatchOptions `json:"options"`
}

// DecodeData decodes an operation payload, tolerating an absent one.
func DecodeData[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, types.Errorf(types.ErrBadArgument, "decoding payload: %v", err)
	}
	return out, nil
}

// Dispatch routes one operation. The caller has already authenticated
// the principal; authorization happens per operation here.
func (rt *Router) Dispatch(ctx context.Context, principal types.Principal, method, path string, data json.RawMessage) (any, error) {
	rel, ok := strings.CutPrefix(path, APIPrefix)
	if !ok {
		return nil, types.NewNotFoundError("path " + path)
	}
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	method = strings.ToUpper(method)

	switch parts[0] {
	case "sessions":
		return rt.dispatchSessions(ctx, principal, method, parts, data)
	case "contexts":
		return rt.dispatchContexts(ctx, principal, method, parts, data)
	case "pages":
		return rt.dispatchPages(ctx, principal, method, parts, data)
	case "execute":
		return rt.dispatchExecute(ctx, principal, method, parts, data)
	}
	return nil, types.NewNotFoundError("path " + path)
}

func (rt *Router) dispatchSessions(ctx context.Context, principal types.Principal, method string, parts []string, data json.RawMessage) (any, error) {
	switch {
	case len(parts) == 1 && method == "POST":
		req, err := DecodeData[sessionCreateData](data)
		if err != nil {
			return nil, err
		}
		return rt.sessions.Create(ctx, principal, session.CreateParams{
			Username: req.Username,
			Password: req.Password,
			Roles:    req.Roles,
			Metadata: req.Metadata,
			TTL:      time.Duration(req.TTLSeconds) * time.Second,
		})
	case len(parts) == 1 && method == "GET":
		if err := rt.gate.Authorize(principal, auth.ResourceSession, auth.ActRead); err != nil {
			return nil, err
		}
		return rt.sessions.List(ctx, principal)
	case len(parts) == 2 && method == "GET":
		if err := rt.gate.Authorize(principal, auth.ResourceSession, auth.ActRead); err != nil {
			return nil, err
		}
		return rt.sessions.Get(ctx, principal, parts[1])
	case len(parts) == 2 && method == "DELETE":
		if err := rt.gate.Authorize(principal, auth.ResourceSession, auth.ActDelete); err != nil {
			return nil, err
		}
		if err := rt.sessions.Delete(ctx, principal, parts[1]); err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": true}, nil
	case len(parts) == 3 && parts[2] == "refresh" && method == "POST":
		if err := rt.gate.Authorize(principal, auth.ResourceSession, auth.ActWrite); err != nil {
			return nil, err
		}
		return rt.sessions.Refresh(ctx, principal, parts[1])
	}
	return nil, types.NewNotFoundError("session operation")
}

func (rt *Router) dispatchContexts(ctx context.Context, principal types.Principal, method string, parts []string, data json.RawMessage) (any, error) {
	switch {
	case len(parts) == 1 && method == "POST":
		if err := rt.gate.Authorize(principal, auth.ResourceContext, auth.ActWrite); err != nil {
			return nil, err
		}
		req, err := DecodeData[struct {
			Name string `json:"name"`
		}](data)
		if err != nil {
			return nil, err
		}
		return rt.pages.CreateContext(principal, req.Name), nil
	case len(parts) == 1 && method == "GET":
		if err := rt.gate.Authorize(principal, auth.ResourceContext, auth.ActRead); err != nil {
			return nil, err
		}
		return rt.pages.ListContexts(principal), nil
	case len(parts) == 2 && method == "GET":
		if err := rt.gate.Authorize(principal, auth.ResourceContext, auth.ActRead); err != nil {
			return nil, err
		}
		return rt.pages.GetContext(principal, parts[1])
	case len(parts) == 2 && method == "DELETE":
		if err := rt.gate.Authorize(principal, auth.ResourceContext, auth.ActDelete); err != nil {
			return nil, err
		}
		if err := rt.pages.DeleteContext(principal, parts[1]); err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": true}, nil
	case len(parts) == 3 && parts[2] == "execute" && method == "POST":
		if err := rt.gate.Authorize(principal, auth.ResourceAction, auth.ActExecute); err != nil {
			return nil, err
		}
		act, err := DecodeData[types.Action](data)
		if err != nil {
			return nil, err
		}
		pageID, err := rt.pages.EnsureContextPage(ctx, principal, parts[1])
		if err != nil {
			return nil, err
		}
		act.PageID = pageID
		return rt.exec.Execute(ctx, principal, act), nil
	}
	return nil, types.NewNotFoundError("context operation")
}

func (rt *Router) dispatchPages(ctx context.Context, principal types.Principal, method string, parts []string, data json.RawMessage) (any, error) {
	switch {
	case len(parts) == 1 && method == "POST":
		if err := rt.gate.Authorize(principal, auth.ResourcePage, auth.ActWrite); err != nil {
			return nil, err
		}
		opts, err := DecodeData[pages.PageOptions](data)
		if err != nil {
			return nil, err
		}
		return rt.pages.CreatePage(ctx, principal, opts)
	case len(parts) == 1 && method == "GET":
		if err := rt.gate.Authorize(principal, auth.ResourcePage, auth.ActRead); err != nil {
			return nil, err
		}
		return rt.pages.List(principal), nil
	case len(parts) == 2 && method == "GET":
		if err := rt.gate.Authorize(principal, auth.ResourcePage, auth.ActRead); err != nil {
			return nil, err
		}
		return rt.pages.Info(principal, parts[1])
	case len(parts) == 2 && method == "DELETE":
		if err := rt.gate.Authorize(principal, auth.ResourcePage, auth.ActDelete); err != nil {
			return nil, err
		}
		if err := rt.pages.ClosePage(ctx, principal, parts[1]); err != nil {
			return nil, err
		}
		rt.exec.ReleasePage(parts[1])
		return map[string]bool{"closed": true}, nil
	case len(parts) == 3 && parts[2] == "history" && method == "GET":
		if err := rt.gate.Authorize(principal, auth.ResourceAction, auth.ActRead); err != nil {
			return nil, err
		}
		if _, err := rt.pages.Info(principal, parts[1]); err != nil {
			return nil, err
		}
		return rt.exec.History(parts[1]), nil
	}
	return nil, types.NewNotFoundError("page operation")
}

func (rt *Router) dispatchExecute(ctx context.Context, principal types.Principal, method string, parts []string, data json.RawMessage) (any, error) {
	if err := rt.gate.Authorize(principal, auth.ResourceAction, auth.ActExecute); err != nil {
		return nil, err
	}
	switch {
	case len(parts) == 1 && method == "POST":
		act, err := DecodeData[types.Action](data)
		if err != nil {
			return nil, err
		}
		return rt.exec.Execute(ctx, principal, act), nil
	case len(parts) == 2 && parts[1] == "batch" && method == "POST":
		req, err := DecodeData[batchData](data)
		if err != nil {
			return nil, err
		}
		if len(req.Actions) == 0 {
			return nil, types.Errorf(types.ErrValidation, "batch requires at least one action")
		}
		return rt.exec.ExecuteBatch(ctx, principal, req.Actions, req.Options), nil
	}
	return nil, types.NewNotFoundError("execute operation")
}
