package api

import (
	"net/http"

	"opsbot/internal/console"
	"opsbot/internal/health"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Messages      MessageHandler
	Jobs          console.Jobs
	Metrics       MetricsRecorder // optional
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates the HTTP handler with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Messages, cfg.Jobs, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Probes are unauthenticated.
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/messages", auth(http.HandlerFunc(handler.PostMessage)))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("DELETE /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.CancelJob)))

	return chain(mux,
		RecoveryMiddleware(),
		AccessMiddleware(cfg.Metrics),
		CORSMiddleware(),
		ContentTypeMiddleware(),
	)
}
