package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/uwia/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/uwia/internal/api/middlewares"
	"github.com/markdave123-py/uwia/internal/config"
)

const apiPrefix = "/enhanced-uwia"

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, sessions handlers.SessionManager, q handlers.Querier, a handlers.Analyzer, log *slog.Logger) *Server {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, sessions, q, a, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, logger: log.With("component", "http")}
}

// NewRouter mounts the API. Uploads and analyses can outlive the usual request budget,
// so only status and delete routes run under the short timeout.
func NewRouter(cfg *config.Config, sessions handlers.SessionManager, q handlers.Querier, a handlers.Analyzer, log *slog.Logger) http.Handler {
	sessionHandler := handlers.NewSessionHandler(sessions, cfg.Processing.MaxUploadBytes, log)
	queryHandler := handlers.NewQueryHandler(q, a, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route(apiPrefix, func(api chi.Router) {
		if cfg.JWTSecret != "" {
			api.Use(appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret)))
		}

		api.Post("/process-large-pdf", sessionHandler.Upload)
		api.Post("/query/{sessionId}", queryHandler.Query)
		api.Post("/analyze/{sessionId}", queryHandler.Analyze)

		api.Group(func(short chi.Router) {
			short.Use(middleware.Timeout(60 * time.Second))
			short.Get("/status/{sessionId}", sessionHandler.Status)
			short.Delete("/session/{sessionId}", sessionHandler.Delete)
		})
	})

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
