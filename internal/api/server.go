// Package api exposes the usage tracker over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/usagestat/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr       string
	AllowedOrigins   []string
	RateLimit        int
	RateLimitWindow  time.Duration
	RateLimitClients int
}

// Server represents the API HTTP server.
type Server struct {
	config      Config
	recorder    usage.Recorder
	rateLimiter *RateLimiter
	server      *http.Server
	router      *mux.Router
	listener    net.Listener // Optional pre-created listener (for systemd socket activation)
	logger      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, recorder usage.Recorder, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		config:   cfg,
		recorder: recorder,
		router:   mux.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	// A zero rate limit disables limiting
	if cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		limiter, err := NewRateLimiter(cfg.RateLimit, window, cfg.RateLimitClients)
		if err != nil {
			return nil, err
		}
		s.rateLimiter = limiter
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(s.rateLimiter))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	usageHandler := NewUsageHandler(s.recorder, s.logger)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/track", usageHandler.TrackBody).Methods(s.methods("POST")...)
	v1.HandleFunc("/track/{feature}", usageHandler.TrackPath).Methods(s.methods("POST")...)
	v1.HandleFunc("/report", usageHandler.Report).Methods(s.methods("GET")...)
	v1.HandleFunc("/report/export", usageHandler.Export).Methods(s.methods("GET")...)
	v1.HandleFunc("/reset", usageHandler.Reset).Methods(s.methods("POST")...)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// methods adds OPTIONS when CORS is enabled so preflight requests reach the
// CORS middleware instead of the handler.
func (s *Server) methods(method string) []string {
	if len(s.config.AllowedOrigins) > 0 {
		return []string{method, "OPTIONS"}
	}
	return []string{method}
}

// Handler returns the routed handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}
