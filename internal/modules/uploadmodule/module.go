// Package uploadmodule wires the upload pipeline into the server: schema,
// collaborators, sessions and routes.
package uploadmodule

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	fingerprintclient "github.com/mantonx/tunevault/internal/clients/fingerprint"
	"github.com/mantonx/tunevault/internal/clients/registry"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/database"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/api"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/service"
	"github.com/mantonx/tunevault/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the upload module
	ModuleID = "system.upload"

	// ModuleName is the display name for the upload module
	ModuleName = "Upload Pipeline"
)

// Module implements the upload pipeline as a module
type Module struct {
	cfg      *config.Config
	db       *gorm.DB
	eventBus events.EventBus
	registry prometheus.Registerer
	logger   hclog.Logger

	store   *storage.LocalStore
	manager *service.Manager
}

// NewModule creates the module. reg may be nil when metrics are disabled.
func NewModule(cfg *config.Config, db *gorm.DB, bus events.EventBus, reg prometheus.Registerer, logger hclog.Logger) *Module {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Module{
		cfg:      cfg,
		db:       db,
		eventBus: bus,
		registry: reg,
		logger:   logger.Named("upload"),
	}
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Migrate performs database migrations
func (m *Module) Migrate(db *gorm.DB) error {
	m.logger.Info("migrating upload schema")
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate upload models: %w", err)
	}
	return nil
}

// Init builds the pipeline collaborators
func (m *Module) Init() error {
	m.logger.Info("initializing upload module")

	store, err := storage.NewLocalStore(m.cfg.Storage, m.logger)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	m.store = store

	var metrics *service.Metrics
	if m.registry != nil {
		metrics, err = service.NewMetrics(m.registry)
		if err != nil {
			return err
		}
	}

	deps := service.Dependencies{
		Config:   m.cfg,
		Store:    store,
		Backend:  database.NewRepository(m.db, m.cfg.Upload, m.logger),
		Artwork:  storage.NewArtworkNormalizer(m.cfg.Artwork, m.logger),
		Bus:      m.eventBus,
		Metrics:  metrics,
		Logger:   m.logger,
		Registry: registry.NewClient(m.cfg.Registry, m.logger),
	}
	if m.cfg.Fingerprint.Enabled {
		deps.Recognizer = fingerprintclient.NewClient(m.cfg.Fingerprint, m.logger)
	}
	m.manager = service.NewManager(deps)

	m.logger.Info("upload module ready",
		"fingerprint", m.cfg.Fingerprint.Enabled,
		"storage_root", store.Root(),
	)
	return nil
}

// RegisterRoutes registers HTTP routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	handler := api.NewHandler(m.manager, m.eventBus, m.cfg.Server)
	api.RegisterRoutes(router, handler)

	// Final assets are served from the object store root.
	router.Static("/media", m.store.Root())
	m.logger.Debug("upload routes registered")
}

// Manager exposes the session manager
func (m *Module) Manager() *service.Manager {
	return m.manager
}

// Shutdown gracefully shuts down the module
func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down upload module")
	if m.manager == nil {
		return nil
	}
	return m.manager.Shutdown(ctx)
}
