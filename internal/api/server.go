package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/smokeharness/internal/metrics"
	"github.com/shehryarbajwa/smokeharness/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(maintenanceHandler *MaintenanceHandler, eventStream http.Handler, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// endpoints that launch browsers are rate limited
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter))
	limited.HandleFunc("/runs", h.StartRun).Methods("POST")
	limited.HandleFunc("/maintenance/reset", maintenanceHandler.Reset).Methods("POST")
	limited.HandleFunc("/maintenance/sanitize", maintenanceHandler.Sanitize).Methods("POST")

	api.HandleFunc("/runs", h.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")

	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")

	api.Handle("/events", eventStream).Methods("GET")

	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.Use(corsMiddleware)
	r.Use(loggingMiddleware(h.logger))

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
