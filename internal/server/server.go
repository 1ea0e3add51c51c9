// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acossette/telecast/internal/api"
	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/config"
	"github.com/acossette/telecast/internal/engine"
	"github.com/acossette/telecast/internal/epoch"
	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/middleware"
	"github.com/acossette/telecast/internal/session"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	engine   *engine.Engine
	db       *session.DB
	loader   *catalog.Loader
	oracle   *epoch.Oracle
	registry *prometheus.Registry
	router   *gin.Engine
	server   *http.Server
}

// New creates a new server instance
func New(
	cfg *config.Config,
	eng *engine.Engine,
	db *session.DB,
	loader *catalog.Loader,
	oracle *epoch.Oracle,
	registry *prometheus.Registry,
) *Server {
	return &Server{
		config:   cfg,
		engine:   eng,
		db:       db,
		loader:   loader,
		oracle:   oracle,
		registry: registry,
	}
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger())
	s.router.Use(gin.Recovery())
	s.router.Use(cors.Default())

	apiGroup := s.router.Group("/api")

	api.SetupHealthRoutes(apiGroup, s.db, s.loader, s.oracle)
	api.SetupChannelRoutes(apiGroup, s.engine)
	api.SetupStatusRoutes(apiGroup, s.engine)

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.setupRouter()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logger.Log.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Msg("Starting HTTP server")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
