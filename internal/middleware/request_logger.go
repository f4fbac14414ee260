package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/tunevault/internal/api"
	"github.com/mantonx/tunevault/internal/logger"
	"github.com/mantonx/tunevault/internal/utils"
)

// maxLoggedBody caps how much of a JSON body is echoed to the debug log.
const maxLoggedBody = 4096

// RequestID assigns every request an id and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(api.RequestIDHeader)
		if id == "" {
			id = utils.GenerateUUID()
		}
		c.Set(api.RequestIDKey, id)
		c.Header(api.RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs all HTTP requests at debug level. Only small JSON bodies
// are logged; uploads are never read here.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()

		var body string
		if isSmallJSON(c) {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			body = string(bodyBytes)
		}

		logger.Debug("HTTP Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"content_length", c.Request.ContentLength,
			"body", body,
			"ip", c.ClientIP(),
			"request_id", api.RequestID(c),
		)

		c.Next()

		logger.Debug("HTTP Response",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"size", c.Writer.Size(),
			"request_id", api.RequestID(c),
		)
	}
}

// ErrorLogger logs errors with context
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Error("Request error",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err.Error(),
				"type", err.Type,
				"request_id", api.RequestID(c),
			)
		}
	}
}

func isSmallJSON(c *gin.Context) bool {
	if c.Request.Body == nil || c.Request.ContentLength <= 0 || c.Request.ContentLength > maxLoggedBody {
		return false
	}
	return strings.HasPrefix(c.ContentType(), "application/json")
}
