package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/tunevault/internal/api"
	"github.com/mantonx/tunevault/internal/logger"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
	"github.com/mantonx/tunevault/internal/utils"
)

// UploadFile handles POST /api/upload/files. The multipart "file" field is
// written to the intake directory and described as a FileRef the session
// endpoints accept.
func (h *Handler) UploadFile(c *gin.Context) {
	if h.server.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.server.MaxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.RespondWithError(c, apptypes.NewAppError(apptypes.ErrorCodeInvalidFile,
				"request body too large", http.StatusRequestEntityTooLarge).
				WithUserMessage("This file is too large to upload."))
			return
		}
		api.RespondWithValidationError(c, "multipart field \"file\" is required", err.Error())
		return
	}

	if err := os.MkdirAll(h.server.IntakeDir, 0o755); err != nil {
		api.RespondWithInternalError(c, "failed to prepare intake directory", err)
		return
	}

	name := filepath.Base(header.Filename)
	path := filepath.Join(h.server.IntakeDir, utils.GenerateUUID()+strings.ToLower(filepath.Ext(name)))
	if err := c.SaveUploadedFile(header, path); err != nil {
		api.RespondWithInternalError(c, "failed to save upload", err)
		return
	}

	ref := types.FileRef{
		URI:      path,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Name:     name,
	}
	logger.Debug("intake file saved", "name", name, "size", header.Size, "request_id", api.RequestID(c))

	c.JSON(http.StatusCreated, gin.H{"success": true, "file": ref})
}
