// Package gateway - stats.go exposes operational metrics as JSON.
//
// GET /stats returns request, cache, stream and spend metrics.
package gateway

import (
	"net/http"
	"time"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/monitoring"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	monitoring.StatsResponse
	CacheEntries   int                     `json:"cache_entries"`
	ActiveSessions int                     `json:"active_sessions"`
	Providers      []string                `json:"enabled_providers"`
	Budget         accounting.BudgetStatus `json:"budget"`
	ErrorsTotal    int64                   `json:"errors_total"`
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	resp := StatsResponse{
		StatsResponse:  g.router.Metrics().FullStats(),
		ActiveSessions: g.streams.Active(),
		Providers:      g.router.EnabledProviders(),
		Budget:         g.router.Accounting().GetBudgetStatus(),
		ErrorsTotal:    g.router.ErrorLog().Total(),
	}
	if c := g.router.Cache(); c != nil {
		resp.CacheEntries = c.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth returns gateway health status. The gateway is degraded when
// no provider is enabled.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	enabled := len(g.router.EnabledProviders())
	health := map[string]any{
		"status":    "ok",
		"time":      time.Now().Format(time.RFC3339),
		"providers": enabled,
	}
	status := http.StatusOK
	if enabled == 0 {
		health["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
