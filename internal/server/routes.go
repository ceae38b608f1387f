package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /qualities", h.ListQualities)

	mux.HandleFunc("GET /session", h.GetSession)
	mux.HandleFunc("PUT /session/file", h.UploadFile)
	mux.HandleFunc("PUT /session/prompt", h.SetPrompt)
	mux.HandleFunc("PUT /session/options", h.SetOptions)
	mux.HandleFunc("POST /session/transform", h.StartTransform)
	mux.HandleFunc("POST /session/reset", h.Reset)
	mux.HandleFunc("GET "+resultPath, h.GetResult)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
