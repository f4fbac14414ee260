// Package service holds the per-user upload sessions that sit between the
// HTTP API and the pipeline core.
package service

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/fingerprint"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/orchestrator"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/quota"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/validation"
	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

// Dependencies are the collaborators shared by every session.
type Dependencies struct {
	Config     *config.Config
	Store      types.ObjectStore
	Backend    types.Backend
	Recognizer types.Recognizer
	Registry   types.RightsRegistry
	Artwork    orchestrator.ArtworkNormalizer
	Bus        events.EventBus
	Metrics    *Metrics
	Logger     hclog.Logger
}

// Manager owns one Session per user.
type Manager struct {
	deps      Dependencies
	validator *validation.Validator
	gate      *quota.Gate
	adapter   *fingerprint.Adapter
	reaper    *fingerprint.Reaper
	logger    hclog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds the shared pipeline components.
func NewManager(deps Dependencies) *Manager {
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	cfg := deps.Config

	m := &Manager{
		deps:      deps,
		validator: validation.NewValidator(cfg.Upload.Limits),
		gate:      quota.NewGate(deps.Backend, cfg.Upload, deps.Logger),
		logger:    deps.Logger.Named("sessions"),
		sessions:  make(map[string]*Session),
	}

	if deps.Store != nil {
		m.reaper = fingerprint.NewReaper(deps.Store, cfg.Upload.Timeouts.Cleanup, deps.Logger)
		m.reaper.OnFailure(func(string, error) { deps.Metrics.recordReaperFailure() })
	}
	if cfg.Fingerprint.Enabled && deps.Recognizer != nil && deps.Store != nil {
		m.adapter = fingerprint.NewAdapter(deps.Store, deps.Recognizer, m.reaper, fingerprint.Config{
			StagingPrefix:    cfg.Storage.StagingPrefix,
			StagingTimeout:   cfg.Upload.Timeouts.Staging,
			RecognizeTimeout: cfg.Fingerprint.RequestTimeout,
		}, deps.Logger)
	}
	return m
}

// Session returns the user's session, creating it on first use.
func (m *Manager) Session(userID, displayName string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		if displayName != "" {
			s.setDisplayName(displayName)
		}
		return s
	}

	s := newSession(userID, displayName, m)
	m.sessions[userID] = s
	m.deps.Metrics.setActiveSessions(len(m.sessions))
	m.logger.Debug("session created", "user_id", userID)
	return s
}

// Get returns an existing session.
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, uploaderrors.ErrSessionNotFound
	}
	return s, nil
}

// Remove closes and forgets the user's session.
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.deps.Metrics.setActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Validator returns the shared file validator.
func (m *Manager) Validator() *validation.Validator {
	return m.validator
}

// Shutdown closes every session and waits for staging cleanup, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	if m.reaper == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.reaper.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
