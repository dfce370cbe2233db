package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storepulse-systems/storepulse/common/middleware"
	"github.com/storepulse-systems/storepulse/ingest/internal/handlers"
)

// NewRouter constructs a ServeMux with ingest API routes registered.
// allowedOrigins enables CORS for browser dashboards reading the
// liveness API; empty means no CORS headers at all.
func NewRouter(h *handlers.EventsHandler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Ingestion
	mux.HandleFunc("POST /events", h.HandleEvent)

	// Liveness read path
	mux.HandleFunc("GET /api/v1/stores/{id}/liveness", h.HandleStoreLiveness)
	mux.HandleFunc("GET /api/v1/liveness", h.HandleLivenessOverview)

	// Scheduler-triggered sweep
	mux.HandleFunc("POST /internal/tick", h.HandleTick)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	if len(allowedOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		})(handler)
	}

	return middleware.RequestID(handler)
}
