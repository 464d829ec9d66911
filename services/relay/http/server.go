package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/config"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/pipeline"
)

// Server bundles router and dependencies for the relay API.
type Server struct {
	cfg    config.Config
	svc    *pipeline.Service
	log    *slog.Logger
	engine *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, svc *pipeline.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.Use(corsMiddleware())

	server := &Server{cfg: cfg, svc: svc, log: logger, engine: engine}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	{
		api.POST("/data", s.handleIngest)
		api.GET("/history", s.handleHistory)
		api.GET("/export", s.handleExport)
		api.GET("/download_csv", s.handleExport)

		cleanup := []gin.HandlerFunc{s.handleCleanup}
		if s.cfg.BearerToken != "" {
			cleanup = append([]gin.HandlerFunc{bearerAuthMiddleware(s.cfg.BearerToken)}, cleanup...)
		}
		api.POST("/cleanup", cleanup...)
	}

	if dir := s.cfg.DashboardDir; dir != "" {
		s.engine.StaticFile("/", filepath.Join(dir, "index.html"))
		s.engine.Static("/static", filepath.Join(dir, "static"))
	}
}
