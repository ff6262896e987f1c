// Package app wires the control plane's HTTP surface: router, middleware
// stack and readiness probes.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/face-recognition-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.RPCTimeout() + 5*time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Viewer flows
	r.Post("/v1/viewers/register", srv.RegisterViewerHandler())
	r.Post("/v1/viewers/track", srv.TrackViewerHandler())

	// Admin surface
	r.Post("/v1/tenants", srv.CreateTenantHandler())
	r.Delete("/v1/tenants/{tenant_id}", srv.DeleteTenantHandler())
	r.Post("/v1/users", srv.EnrollUserHandler())
	r.Delete("/v1/users/{user_id}", srv.DeleteUserHandler())
	r.Post("/v1/users/{user_id}/faces", srv.AddFaceHandler())
	r.Get("/v1/users/{user_id}/faces", srv.ListFacesHandler())
	r.Delete("/v1/users/{user_id}/faces/{face_id}", srv.DeleteFaceHandler())
	r.Get("/v1/workers/stats", srv.WorkerStatsHandler())
	r.Get("/v1/workers/health", srv.WorkerHealthHandler())

	// Analytics
	r.Get("/v1/analytics", srv.AnalyticsHandler())

	// Worker bootstrap snapshot
	r.Get("/v1/internal/snapshot", srv.SnapshotHandler())

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	return httpserver.SecurityHeaders(r)
}
