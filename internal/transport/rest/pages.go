package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/pages"
)

func (a *API) handlePageCreate(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourcePage, auth.ActWrite)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	var opts pages.PageOptions
	if r.ContentLength > 0 {
		if err := decodeBody(r, &opts); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
	}
	info, err := a.pages.CreatePage(r.Context(), principal, opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, info)
}

func (a *API) handlePageList(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourcePage, auth.ActRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	list := a.pages.List(principal)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"pages": list, "count": len(list)})
}

func (a *API) handlePageGet(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourcePage, auth.ActRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	info, err := a.pages.Info(principal, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, info)
}

func (a *API) handlePageConfigure(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourcePage, auth.ActWrite)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	var opts pages.PageOptions
	if err := decodeBody(r, &opts); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	info, err := a.pages.Configure(r.Context(), principal, chi.URLParam(r, "id"), opts)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, info)
}

func (a *API) handlePageClose(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourcePage, auth.ActDelete)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.pages.ClosePage(r.Context(), principal, id); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	a.exec.ReleasePage(id)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"closed": true})
}

func (a *API) handlePageHistory(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceAction, auth.ActRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	// Ownership is enforced by the page lookup.
	if _, err := a.pages.Info(principal, id); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	hist := a.exec.History(id)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"history": hist, "count": len(hist)})
}
