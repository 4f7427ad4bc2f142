// internal/web/handlers.go
package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/database"
	"bitaxe-monitor/internal/monitoring"
)

const maxBodySize = 1 << 20

// POST /api/data - store one telemetry sample
func (s *Server) ingestData(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		s.recordIngestFailure()
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data received"})
		return
	}

	sample, err := database.ParseSample(body)
	if err != nil {
		s.recordIngestFailure()
		if errors.Is(err, database.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data format"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data received"})
		return
	}

	id, err := s.engine.Ingest(c.Request.Context(), monitoring.SourceHTTP, sample)
	if err != nil {
		logrus.WithError(err).WithField("ip", c.ClientIP()).Error("Failed to save miner data")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Data saved successfully",
		"id":      id,
	})
}

func (s *Server) recordIngestFailure() {
	if s.metrics != nil {
		s.metrics.RecordIngestFailure(monitoring.SourceHTTP)
	}
}

// GET /api/data/latest
func (s *Server) getLatest(c *gin.Context) {
	sample, err := s.engine.Latest(c.Request.Context())
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No data available"})
		return
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to get latest sample")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, sample)
}

// GET /api/data/historical?hours=6&limit=1000
func (s *Server) getHistorical(c *gin.Context) {
	hours, ok := queryInt(c, "hours", 6)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 1000)
	if !ok {
		return
	}

	samples, err := s.engine.Historical(c.Request.Context(), hours, limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to get historical data")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if samples == nil {
		samples = []database.Sample{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  samples,
		"count": len(samples),
		"hours": hours,
	})
}

// GET /api/stats?hours=24
func (s *Server) getStats(c *gin.Context) {
	hours, ok := queryInt(c, "hours", 24)
	if !ok {
		return
	}

	stats, err := s.engine.Stats(c.Request.Context(), hours)
	if err != nil {
		logrus.WithError(err).Error("Failed to calculate stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if stats.Count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No data available for the specified period"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GET /api/alerts?hours=24&limit=100
func (s *Server) getAlerts(c *gin.Context) {
	hours, ok := queryInt(c, "hours", 24)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}

	alerts, err := s.engine.Alerts(c.Request.Context(), hours, limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to get alerts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if alerts == nil {
		alerts = []database.AlertEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GET /api/projection?hours=24&device=
func (s *Server) getProjection(c *gin.Context) {
	hours, ok := queryInt(c, "hours", 24)
	if !ok {
		return
	}

	result, err := s.engine.Projection(c.Request.Context(), hours, c.Query("device"))
	if err != nil {
		logrus.WithError(err).Error("Failed to compute projection")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// POST /api/auth/login
func (s *Server) login(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Access code required"})
		return
	}

	token, expiresAt, err := s.auth.Login(req.Code)
	if errors.Is(err, ErrInvalidCode) {
		logrus.WithField("ip", c.ClientIP()).Warn("Failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid access code"})
		return
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// queryInt reads a positive integer query parameter. On a bad value it
// writes a 400 and returns false.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " parameter"})
		return 0, false
	}
	return v, true
}
