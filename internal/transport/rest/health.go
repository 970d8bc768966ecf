package rest

import (
	"net/http"
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/middleware"
	"github.com/puppeteer-mcp/puppeteer-mcp/pkg/version"
)

var startTime = time.Now()

// HealthStatus is the full health report served at /health.
type HealthStatus struct {
	Status        string  `json:"status"` // ok | degraded
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Pool          any     `json:"pool"`
	StoreHealthy  bool    `json:"storeHealthy"`
	Timestamp     string  `json:"timestamp"`
}

func (a *API) healthStatus(r *http.Request) HealthStatus {
	storeOK := a.store.Ping(r.Context()) == nil
	poolOK := a.pool.Healthy()

	status := "ok"
	if !storeOK || !poolOK {
		status = "degraded"
	}
	return HealthStatus{
		Status:        status,
		Version:       version.Full(),
		UptimeSeconds: time.Since(startTime).Seconds(),
		Pool:          a.pool.Metrics(),
		StoreHealthy:  storeOK,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, a.healthStatus(r))
}

// handleLive answers as long as the process can serve requests.
func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 503 until the pool and the store can do work, so
// load balancers keep traffic away during startup and drain.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	st := a.healthStatus(r)
	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, code, st)
}
