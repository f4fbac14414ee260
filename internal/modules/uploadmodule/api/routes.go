package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all upload module routes
func RegisterRoutes(router *gin.Engine, handler *Handler) {
	uploadGroup := router.Group("/api/upload")
	uploadGroup.Use(handler.RequireUser())
	{
		uploadGroup.POST("/files", handler.UploadFile)
		uploadGroup.POST("/albums", handler.SubmitAlbum)
		uploadGroup.GET("/ws", handler.HandleWebSocket)
	}

	sessionGroup := uploadGroup.Group("/session")
	{
		sessionGroup.GET("", handler.GetSession)
		sessionGroup.PUT("/audio", handler.SelectAudio)
		sessionGroup.DELETE("/audio", handler.ClearAudio)
		sessionGroup.PUT("/cover", handler.SetCover)
		sessionGroup.DELETE("/cover", handler.ClearCover)
		sessionGroup.PUT("/form", handler.UpdateForm)
		sessionGroup.PUT("/cover-song", handler.SetCoverSong)
		sessionGroup.PUT("/original", handler.SetOriginalWork)
		sessionGroup.PUT("/isrc", handler.InputISRC)
		sessionGroup.POST("/submit", handler.Submit)
	}
}
