// Package server provides the local HTTP API over the workflow service.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/pngprotect/internal/auth"
	"github.com/pendergraft/pngprotect/internal/config"
	"github.com/pendergraft/pngprotect/internal/middleware/logging"
	"github.com/pendergraft/pngprotect/internal/observability/metrics"
	"github.com/pendergraft/pngprotect/internal/workflow"
)

// ArtifactReader resolves artifact references to files on disk
type ArtifactReader interface {
	Path(ref string) (string, error)
}

// Server is the local API server
type Server struct {
	cfg       config.ServerConfig
	svc       workflow.Service
	artifacts ArtifactReader
	logger    *slog.Logger
	router    *chi.Mux
}

// New creates a new server
func New(cfg config.ServerConfig, svc workflow.Service, artifacts ArtifactReader, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		artifacts: artifacts,
		logger:    logger,
		router:    chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(MaxBodySize(int64(s.maxUploadMB()) << 20))
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		if s.cfg.APIToken != "" {
			r.Use(auth.Middleware(s.cfg.APIToken, writeError))
		}

		r.Route("/protect", func(r chi.Router) {
			r.Post("/", s.handleProtect)
			r.Get("/", s.handleProtectStatus)
			r.Get("/artifact", s.handleProtectArtifact)
		})

		r.Route("/verify", func(r chi.Router) {
			r.Post("/", s.handleVerify)
			r.Get("/", s.handleVerifyStatus)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", s.handleWalletStatus)
			r.Post("/connect", s.handleWalletConnect)
			r.Post("/disconnect", s.handleWalletDisconnect)
		})

		r.Route("/register", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Get("/", s.handleRegisterStatus)
		})
	})
}

func (s *Server) maxUploadMB() int {
	if s.cfg.MaxUploadMB <= 0 {
		return 25
	}
	return s.cfg.MaxUploadMB
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithStatus(w, status, code, message, nil)
}

// writeErrorWithStatus writes the error envelope and, when set, the workflow
// status the failure left behind.
func writeErrorWithStatus(w http.ResponseWriter, status int, code, message string, st any) {
	body := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if st != nil {
		body["status"] = st
	}
	writeJSON(w, status, body)
}
