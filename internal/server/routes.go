package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes registers the routes owned by the server itself
func (s *Server) setupRoutes(r *gin.Engine) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", s.health)

		eventsGroup := apiGroup.Group("/events")
		{
			eventsGroup.GET("/stats", s.eventStats)
			eventsGroup.GET("/recent", s.recentEvents)
		}
	}

	if s.registry != nil {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
}

// health handles GET /api/health
func (s *Server) health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if sqlDB, err := s.db.DB(); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	if err := s.eventBus.Health(); err != nil {
		checks["events"] = err.Error()
		healthy = false
	} else {
		checks["events"] = "ok"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// eventStats handles GET /api/events/stats
func (s *Server) eventStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": s.eventBus.GetStats()})
}

// recentEvents handles GET /api/events/recent
func (s *Server) recentEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	var filter events.EventFilter
	if t := c.Query("type"); t != "" {
		filter.Types = []events.EventType{events.EventType(t)}
	}
	if user := c.Query("user_id"); user != "" {
		filter.Targets = []string{user}
	}

	recent := s.eventBus.RecentEvents(filter, limit)
	c.JSON(http.StatusOK, gin.H{"events": recent, "count": len(recent)})
}
