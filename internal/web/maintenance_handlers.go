// internal/web/maintenance_handlers.go - manual retention and compaction
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (s *Server) setupMaintenanceRoutes(api *gin.RouterGroup) {
	maintenance := api.Group("/maintenance")
	{
		maintenance.GET("/database", s.getDatabaseStats)
		maintenance.POST("/purge", s.purgeExpired)
		maintenance.POST("/compact", s.compactDatabase)
	}
}

// GET /api/maintenance/database
func (s *Server) getDatabaseStats(c *gin.Context) {
	stats, err := s.engine.Store().GetDatabaseStats(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to get database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// POST /api/maintenance/purge - prune samples and alerts past retention
func (s *Server) purgeExpired(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	samples, alerts, err := s.engine.PurgeExpired(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge expired data")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge expired data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Expired data purged successfully",
		"samples_removed": samples,
		"alerts_removed":  alerts,
		"timestamp":       time.Now(),
	})
}

// POST /api/maintenance/compact
func (s *Server) compactDatabase(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	if err := s.engine.Compact(ctx); err != nil {
		logrus.WithError(err).Error("Failed to compact database")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compact database"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Database compacted successfully",
		"timestamp": time.Now(),
	})
}
