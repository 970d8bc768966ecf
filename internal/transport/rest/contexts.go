package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

type contextCreateRequest struct {
	Name string `json:"name,omitempty"`
}

func (a *API) handleContextCreate(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceContext, auth.ActWrite)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	var req contextCreateRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
	}
	info := a.pages.CreateContext(principal, req.Name)
	middleware.WriteJSON(w, http.StatusCreated, info)
}

func (a *API) handleContextList(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceContext, auth.ActRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	contexts := a.pages.ListContexts(principal)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"contexts": contexts, "count": len(contexts)})
}

func (a *API) handleContextGet(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceContext, auth.ActRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	info, err := a.pages.GetContext(principal, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, info)
}

func (a *API) handleContextDelete(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceContext, auth.ActDelete)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := a.pages.DeleteContext(principal, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleContextExecute runs an action against the context's current
// page, creating a page on first use.
func (a *API) handleContextExecute(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceAction, auth.ActExecute)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	var act types.Action
	if err := decodeBody(r, &act); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	pageID, err := a.pages.EnsureContextPage(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	act.PageID = pageID

	result := a.exec.Execute(r.Context(), principal, act)
	status := http.StatusOK
	if !result.Success && result.Error != nil {
		status = types.FromWire(*result.Error).HTTPStatus()
	}
	middleware.WriteJSON(w, status, result)
}
