package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/scroll-sync-server/internal/api/common"
	"github.com/stacklok/scroll-sync-server/internal/versions"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// HealthRouter creates a router for health check endpoints.
// A nil readiness check always reports ready.
func HealthRouter(readiness ReadinessCheck) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/api/health", apiHealthHandler)
	r.Get("/readiness", readinessHandler(readiness))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

// apiHealthHandler echoes the request path for browser clients probing the API prefix
func apiHealthHandler(w http.ResponseWriter, r *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "ok", Path: r.URL.Path}, http.StatusOK)
}

func readinessHandler(check ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				common.WriteErrorResponse(w, "service not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		common.WriteJSONResponse(w, HealthResponse{Status: "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
