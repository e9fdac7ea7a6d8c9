package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// CORS is the cross-origin policy applied to every route.
	CORS CORSPolicy
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		CORS: DefaultCORSPolicy(),
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /projects", h.CreateProject)
	mux.HandleFunc("GET /projects/{id}", h.GetProject)
	// Sweep trigger for the external scheduler. Idempotent; safe to invoke
	// repeatedly.
	mux.HandleFunc("POST /internal/monitor/sweep", h.TriggerSweep)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.CORS),
	)

	return chain(mux)
}
