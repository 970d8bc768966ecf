package rest

import (
	"net/http"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
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

	result := a.exec.Execute(r.Context(), principal, act)
	status := http.StatusOK
	if !result.Success && result.Error != nil {
		status = types.FromWire(*result.Error).HTTPStatus()
	}
	middleware.WriteJSON(w, status, result)
}

type batchRequest struct {
	Actions []types.Action     `json:"actions"`
	Options types.BatchOptions `json:"options"`
}

func (a *API) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	principal, err := a.authorize(r, auth.ResourceAction, auth.ActExecute)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if len(req.Actions) == 0 {
		middleware.WriteError(w, r, types.Errorf(types.ErrValidation, "actions must not be empty"))
		return
	}

	results := a.exec.ExecuteBatch(r.Context(), principal, req.Actions, req.Options)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}
