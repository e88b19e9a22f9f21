package api

import (
	"encoding/json"
	"net/http"

	"github.com/KanavDutta/windowfence/metrics"
)

// MetricsProvider defines the interface for getting metrics
type MetricsProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// StatsHandler handles GET /stats requests
type StatsHandler struct {
	provider MetricsProvider
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(provider MetricsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// ServeHTTP writes the current snapshot as JSON
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.provider.GetSnapshot())
}
