// internal/web/server.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/config"
	"bitaxe-monitor/internal/metrics"
	"bitaxe-monitor/internal/monitoring"
	"bitaxe-monitor/internal/notifications"
)

// throttleReporter is implemented by sinks that rate-limit delivery.
type throttleReporter interface {
	Unthrottled() notifications.Sink
	GetStats() map[string]interface{}
}

type Server struct {
	config   *config.Config
	engine   *monitoring.Engine
	metrics  *metrics.Collector
	sink     notifications.Sink
	throttle throttleReporter
	auth     *Authenticator
	limiter  *RateLimiter
	hub      *Hub
	router   *gin.Engine
	server   *http.Server
}

// NewServer builds the router. The Telegram test message bypasses the send
// throttle when sink is a throttled one.
func NewServer(cfg *config.Config, engine *monitoring.Engine, collector *metrics.Collector, sink notifications.Sink) (*Server, error) {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:  cfg,
		engine:  engine,
		metrics: collector,
		sink:    sink,
		auth:    auth,
		limiter: NewRateLimiter(cfg.Server.RateLimit),
		hub:     NewHub(collector),
		router:  router,
	}
	if throttled, ok := sink.(throttleReporter); ok {
		server.throttle = throttled
		server.sink = throttled.Unthrottled()
	}

	engine.SetBroadcaster(server.hub)
	server.setupRoutes()
	return server, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go s.limiterCleanupRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/favicon.ico", s.serveFavicon)

	protected := authMiddleware(s.auth)
	var limited []gin.HandlerFunc
	if s.config.Server.RateLimit.Enabled {
		limited = append(limited, rateLimitMiddleware(s.limiter))
	}

	api := s.router.Group("/api")
	{
		ingest := api.Group("", limited...)
		ingest.POST("/data", s.ingestData)
		ingest.POST("/input", s.ingestData)
		ingest.POST("/auth/login", s.login)

		api.GET("/data/latest", s.getLatest)
		api.GET("/data/historical", s.getHistorical)
		api.GET("/stats", s.getStats)
		api.GET("/projection", s.getProjection)
		api.GET("/health", s.healthCheck)
		api.GET("/build", s.getBuildInfo)

		secured := api.Group("", protected)
		secured.GET("/settings", s.getSettings)
		secured.POST("/settings", s.updateSettings)
		secured.POST("/settings/telegram/test", s.testTelegram)
		secured.GET("/alerts", s.getAlerts)
		s.setupMaintenanceRoutes(secured)
	}

	s.router.GET("/ws", protected, s.handleWebSocket)

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	response := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   Version,
		"websocket": s.hub.Count(),
	}

	stats, err := s.engine.Store().GetDatabaseStats(ctx)
	if err != nil {
		logrus.WithError(err).Error("Health check failed to read database stats")
		response["status"] = "degraded"
		response["database"] = gin.H{"error": "Database error"}
	} else {
		response["database"] = stats
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		response["memory"] = gin.H{
			"total_bytes":  vm.Total,
			"used_bytes":   vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}

	if states := s.engine.MinerStates(); states != nil {
		response["miners"] = states
	}

	if cache := s.engine.CacheStatus(ctx); cache != nil {
		response["cache"] = cache
	}

	if s.throttle != nil {
		response["notifications"] = s.throttle.GetStats()
	}

	status := http.StatusOK
	if response["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}

func (s *Server) limiterCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.limiter.Cleanup(30 * time.Minute); removed > 0 {
				logrus.WithField("removed", removed).Debug("Cleaned up idle rate limiters")
			}
		}
	}
}

