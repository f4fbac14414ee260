package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mantonx/tunevault/internal/api"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/mantonx/tunevault/internal/logger"
	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/service"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
)

const (
	userIDHeader   = "X-User-ID"
	userNameHeader = "X-User-Name"
	sessionKey     = "upload_session"
)

// Handler provides HTTP handlers for upload sessions
type Handler struct {
	manager    *service.Manager
	bus        events.EventBus
	server     config.ServerConfig
	wsUpgrader websocket.Upgrader
}

// NewHandler creates a new API handler
func NewHandler(manager *service.Manager, bus events.EventBus, server config.ServerConfig) *Handler {
	return &Handler{
		manager: manager,
		bus:     bus,
		server:  server,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: originChecker(server.AllowedOrigins),
		},
	}
}

// RequireUser resolves the caller's session from the gateway headers.
func (h *Handler) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(userIDHeader))
		if userID == "" {
			api.RespondWithError(c, apptypes.NewAppError(apptypes.ErrorCodeUnauthorized,
				"missing "+userIDHeader+" header", http.StatusUnauthorized).
				WithUserMessage("Please sign in to upload."))
			c.Abort()
			return
		}
		c.Set(sessionKey, h.manager.Session(userID, strings.TrimSpace(c.GetHeader(userNameHeader))))
		c.Next()
	}
}

func currentSession(c *gin.Context) *service.Session {
	return c.MustGet(sessionKey).(*service.Session)
}

// GetSession handles GET /api/upload/session
func (h *Handler) GetSession(c *gin.Context) {
	s := currentSession(c)

	response := gin.H{"success": true}
	if _, err := s.RefreshQuota(c.Request.Context()); err != nil {
		logger.Warn("quota refresh failed", "user_id", s.UserID(), "error", err)
		if appErr, ok := apptypes.AsAppError(err); ok {
			response["quota_error"] = appErr.DisplayMessage()
		} else {
			response["quota_error"] = err.Error()
		}
	}
	response["session"] = s.View()
	c.JSON(http.StatusOK, response)
}

// SelectAudio handles PUT /api/upload/session/audio
func (h *Handler) SelectAudio(c *gin.Context) {
	var req struct {
		File types.FileRef     `json:"file"`
		Kind types.ContentKind `json:"kind"`
	}
	if !bind(c, &req) {
		return
	}

	s := currentSession(c)
	if err := s.SelectAudio(req.File, req.Kind); err != nil {
		respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// ClearAudio handles DELETE /api/upload/session/audio
func (h *Handler) ClearAudio(c *gin.Context) {
	s := currentSession(c)
	if err := s.ClearAudio(); err != nil {
		respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// SetCover handles PUT /api/upload/session/cover
func (h *Handler) SetCover(c *gin.Context) {
	var cover types.FileRef
	if !bind(c, &cover) {
		return
	}

	s := currentSession(c)
	if err := s.SetCover(cover); err != nil {
		respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// ClearCover handles DELETE /api/upload/session/cover
func (h *Handler) ClearCover(c *gin.Context) {
	s := currentSession(c)
	s.ClearCover()
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// UpdateForm handles PUT /api/upload/session/form
func (h *Handler) UpdateForm(c *gin.Context) {
	var form types.TrackForm
	if !bind(c, &form) {
		return
	}

	s := currentSession(c)
	if err := s.UpdateForm(form); err != nil {
		respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// SetCoverSong handles PUT /api/upload/session/cover-song
func (h *Handler) SetCoverSong(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !bind(c, &req) {
		return
	}

	s := currentSession(c)
	s.SetCoverSong(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// SetOriginalWork handles PUT /api/upload/session/original
func (h *Handler) SetOriginalWork(c *gin.Context) {
	var req struct {
		Confirmed bool `json:"confirmed"`
	}
	if !bind(c, &req) {
		return
	}

	s := currentSession(c)
	s.SetOriginalWork(req.Confirmed)
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// InputISRC handles PUT /api/upload/session/isrc
func (h *Handler) InputISRC(c *gin.Context) {
	var req struct {
		Value string `json:"value"`
	}
	if !bind(c, &req) {
		return
	}

	s := currentSession(c)
	s.InputISRC(req.Value)
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s.View()})
}

// Submit handles POST /api/upload/session/submit
func (h *Handler) Submit(c *gin.Context) {
	var req struct {
		Device string `json:"device"`
	}
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	if req.Device == "" {
		req.Device = c.Request.UserAgent()
	}

	s := currentSession(c)
	result, err := s.Submit(c.Request.Context(), req.Device)
	if err != nil {
		respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Track uploaded",
		"track":   result,
		"session": s.View(),
	})
}

// SubmitAlbum handles POST /api/upload/albums
func (h *Handler) SubmitAlbum(c *gin.Context) {
	var req struct {
		Album       types.AlbumCandidate `json:"album"`
		Attestation types.Attestation    `json:"attestation"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Attestation.Device == "" {
		req.Attestation.Device = c.Request.UserAgent()
	}

	s := currentSession(c)
	result, err := s.SubmitAlbum(c.Request.Context(), req.Album, req.Attestation)
	if err != nil {
		respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Album uploaded",
		"album":   result,
	})
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		api.RespondWithValidationError(c, "invalid request body", err.Error())
		return false
	}
	return true
}

// respond maps upload sentinels onto structured errors.
func respond(c *gin.Context, err error) {
	if _, ok := apptypes.AsAppError(err); ok {
		api.RespondWithError(c, err)
		return
	}

	switch {
	case errors.Is(err, uploaderrors.ErrNoCandidate):
		api.RespondWithError(c, apptypes.NewValidationError(err.Error()).
			WithUserMessage("Please choose an audio file first."))
	case errors.Is(err, uploaderrors.ErrSessionNotFound):
		api.RespondWithNotFound(c, "upload session", "")
	default:
		api.RespondWithError(c, err)
	}
}
