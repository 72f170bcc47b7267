package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/nodebox/internal/api/http"
	"github.com/GriffinCanCode/nodebox/internal/api/middleware"
	"github.com/GriffinCanCode/nodebox/internal/api/ws"
	"github.com/GriffinCanCode/nodebox/internal/guest"
	"github.com/GriffinCanCode/nodebox/internal/host"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/config"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	supervisor *host.Supervisor
	registry   *prometheus.Registry
	metrics    *monitoring.Metrics
	logger     *logging.Logger
	config     *config.Config
	http       *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	return NewServerWithLogger(cfg, logger)
}

// NewServerWithLogger builds the server around an existing logger.
func NewServerWithLogger(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing nodebox server",
		zap.String("port", cfg.Server.Port),
		zap.String("mode", cfg.Guest.Mode),
		zap.String("remote", cfg.Remote.BaseURL),
	)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	opts := []host.Option{
		host.WithMetrics(metrics),
		host.WithLogger(logger),
		host.WithCwd(cfg.Guest.Cwd),
		host.WithSnapshotPath(cfg.Storage.SnapshotPath),
	}
	if cfg.Remote.BaseURL != "" && !cfg.Remote.NoNetwork {
		opts = append(opts, host.WithFetcher(vfs.NewHTTPFetcher(vfs.RemoteOptions{
			BaseURL: cfg.Remote.BaseURL,
			Timeout: cfg.Remote.Timeout,
			Retries: cfg.Remote.Retries,
			RPS:     cfg.Remote.RPS,
		})))
		logger.Info("Remote fallback enabled", zap.String("base_url", cfg.Remote.BaseURL))
	}
	supervisor := host.New(guest.ConfigFrom(cfg), nil, opts...)

	if cfg.Storage.SnapshotPath != "" {
		if _, err := supervisor.Restore(); err != nil {
			logger.Warn("Snapshot not restored", zap.Error(err))
		}
	}
	if cfg.Storage.SeedDir != "" {
		n, err := supervisor.LoadDir(cfg.Storage.SeedDir, cfg.Guest.Cwd)
		if err != nil {
			return nil, err
		}
		logger.Info("Seeded VFS", zap.String("dir", cfg.Storage.SeedDir), zap.Int("entries", n))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.NewCORSConfig(cfg.Server.CORSOrigins...)))

	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(supervisor, metrics, logger)
	wsHandler := ws.NewHandler(supervisor, metrics, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Guests
	router.GET("/ws", wsHandler.HandleConnection)
	router.GET("/guests", handlers.ListGuests)
	router.DELETE("/guests/:id", handlers.KillGuest)

	// Host-side file access
	router.GET("/fs", handlers.ReadFS)
	router.PUT("/fs", handlers.WriteFS)
	router.POST("/fs/snapshot", handlers.SaveSnapshot)

	// Metrics
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/metrics/json", handlers.MetricsJSON)

	logger.Info("Server initialized successfully")

	return &Server{
		router:     router,
		supervisor: supervisor,
		registry:   registry,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
		http: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Supervisor returns the guest supervisor behind the routes.
func (s *Server) Supervisor() *host.Supervisor {
	return s.supervisor
}

// Run starts the HTTP server and blocks until it stops. A clean Shutdown
// returns nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, kills every guest and persists the VFS.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	s.supervisor.Teardown()
	if saveErr := s.supervisor.Save(); saveErr != nil {
		s.logger.Error("Snapshot save failed", zap.Error(saveErr))
		err = errors.Join(err, saveErr)
	}

	s.logger.Info("Server shutdown complete")
	return err
}
