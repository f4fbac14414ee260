// Package server assembles the HTTP server: event bus, upload module,
// middleware, health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/api"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/mantonx/tunevault/internal/middleware"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Server owns the router and everything it depends on.
type Server struct {
	cfg      *config.Config
	db       *gorm.DB
	logger   hclog.Logger
	eventBus events.EventBus
	registry *prometheus.Registry
	upload   *uploadmodule.Module
	router   *gin.Engine
}

// New builds the server. The database must already be open.
func New(cfg *config.Config, db *gorm.DB, logger hclog.Logger) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Server{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}

	busConfig := events.DefaultEventBusConfig()
	s.eventBus = events.NewEventBus(busConfig, logger.Named("events"))

	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = s.registry
	}

	s.upload = uploadmodule.NewModule(cfg, db, s.eventBus, reg, logger)
	if err := s.upload.Migrate(db); err != nil {
		return nil, err
	}
	if err := s.upload.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", s.upload.Name(), err)
	}

	s.router = s.setupRouter()
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// EventBus returns the server's event bus.
func (s *Server) EventBus() events.EventBus {
	return s.eventBus
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		api.ErrorMiddleware(),
		middleware.CORS(s.cfg.Server.AllowedOrigins),
		middleware.RequestLogger(),
		middleware.ErrorLogger(),
	)

	s.setupRoutes(r)
	s.upload.RegisterRoutes(r)
	return r
}

// Run starts the event bus and serves HTTP until ctx is cancelled, then
// shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.eventBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	_ = s.eventBus.PublishAsync(events.NewEvent(events.EventSystemStarted, "system", "", nil))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := s.upload.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("upload module shutdown: %w", err))
	}
	_ = s.eventBus.PublishAsync(events.NewEvent(events.EventSystemStopped, "system", "", nil))
	if err := s.eventBus.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("event bus shutdown: %w", err))
	}

	s.logger.Info("server shutdown complete")
	return errors.Join(errs...)
}
