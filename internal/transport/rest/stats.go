package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/auth"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Domain stats are operational data, so the whole surface is
// admin-only.

func (a *API) handleDomainStats(w http.ResponseWriter, r *http.Request) {
	if _, err := a.authorize(r, auth.ResourceAdmin, auth.ActRead); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"domains": a.exec.DomainStats().Snapshot(),
	})
}

func (a *API) handleDomainStatsGet(w http.ResponseWriter, r *http.Request) {
	if _, err := a.authorize(r, auth.ResourceAdmin, auth.ActRead); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	domain := chi.URLParam(r, "domain")
	st, ok := a.exec.DomainStats().Stats(domain)
	if !ok {
		middleware.WriteError(w, r, types.NewNotFoundError("domain "+domain))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

type domainDelayRequest struct {
	DelayMs *int `json:"delayMs"`
}

// handleDomainDelay pins or clears the backoff for a domain. A null or
// absent delayMs clears the override.
func (a *API) handleDomainDelay(w http.ResponseWriter, r *http.Request) {
	if _, err := a.authorize(r, auth.ResourceAdmin, auth.ActWrite); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	domain := chi.URLParam(r, "domain")

	var req domainDelayRequest
	if err := decodeBody(r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	tracker := a.exec.DomainStats()
	if req.DelayMs == nil {
		tracker.ClearManualDelay(domain)
	} else {
		tracker.SetManualDelay(domain, *req.DelayMs)
	}

	st, _ := tracker.Stats(domain)
	middleware.WriteJSON(w, http.StatusOK, st)
}

func (a *API) handleDomainStatsReset(w http.ResponseWriter, r *http.Request) {
	if _, err := a.authorize(r, auth.ResourceAdmin, auth.ActDelete); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	a.exec.DomainStats().Reset(chi.URLParam(r, "domain"))
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"reset": true})
}
