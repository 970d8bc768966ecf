package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/session"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

func notFoundErr(path string) error {
	return types.NewNotFoundError("route " + path)
}

func methodErr(method string) error {
	return types.Errorf(types.ErrBadArgument, "method %s not allowed", method)
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return types.Errorf(types.ErrBadArgument, "decoding request body: %v", err)
	}
	return nil
}

// authorize runs the RBAC check for the request principal.
func (a *API) authorize(r *http.Request, resource, act string) (types.Principal, error) {
	principal := auth.MustPrincipal(r.Context())
	if err := a.gate.Authorize(principal, resource, act); err != nil {
		return principal, err
	}
	return principal, nil
}

type sessionCreateRequest struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Roles      []string          `json:"roles,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
}

// handleSessionCreate is the login endpoint. It is reachable by
// unauthenticated callers presenting credentials in the body, so the
// RBAC check only applies when the caller carries a principal.
func (a *API) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	res, err := a.sessions.Create(r.Context(), auth.MustPrincipal(r.Context()), session.CreateParams{
		Username: req.Username,
		Password: req.Password,
		Roles:    req.Roles,
		Metadata: req.Metadata,
		TTL:      time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

func (a *API) handleSessionList(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceSession, auth.ActRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	sessions, err := a.sessions.List(r.Context(), principal)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceSession, auth.ActRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	sess, err := a.sessions.Get(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sess)
}

func (a *API) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceSession, auth.ActWrite)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	var data types.SessionData
	if err := decodeBody(r, &data); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	sess, err := a.sessions.Update(r.Context(), principal, chi.URLParam(r, "id"), data)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sess)
}

func (a *API) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceSession, auth.ActDelete)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := a.sessions.Delete(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceSession, auth.ActWrite)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	sess, err := a.sessions.Refresh(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sess)
}
