package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"emcp-client/internal/config"
	"emcp-client/internal/handlers"
	"emcp-client/internal/middleware"
	"emcp-client/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies everything the UI bridge routes are served from
type Dependencies struct {
	Surface       *GinSurface
	PushService   *services.WebSocketPushService
	Upstream      handlers.HealthChecker
	Notifications *services.RecordingNotifier
}

// corsMiddleware CORS middleware
// Priority: CORS_ALLOWED_ORIGINS (via config) > server.allowedOrigins > none
func corsMiddleware(cfg config.ServerConfig) gin.HandlerFunc {
	maxAge := 3600
	if cfg.MaxAge > 0 {
		maxAge = cfg.MaxAge
	}

	allowed := func(origin string) bool {
		for _, o := range cfg.AllowedOrigins {
			if o == "*" || strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if allowed(origin) {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				if cfg.AllowCredentials {
					c.Header("Access-Control-Allow-Credentials", "true")
				}
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin":  origin,
					"allowed_origins": cfg.AllowedOrigins,
					"path":            c.Request.URL.Path,
					"method":          c.Request.Method,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+middleware.HeaderBridgeToken)
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Next()
	}
}

// requestLogger logs one line per request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("🌐 [Bridge] Request failed")
			return
		}
		entry.Debug("🌐 [Bridge] Request handled")
	}
}

// SetupRouter builds the local UI bridge
func SetupRouter(cfg config.ServerConfig, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsMiddleware(cfg))

	if len(cfg.AllowedIPs) > 0 {
		logrus.WithFields(logrus.Fields{
			"allowed_ips": cfg.AllowedIPs,
			"count":       len(cfg.AllowedIPs),
		}).Info("🔒 [Bridge] IP whitelist configured")
	} else {
		logrus.Info("🔒 [Bridge] No server.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logrus.StandardLogger(), cfg.AllowedIPs)
	r.Use(localhostOnly.Restrict())

	// ============ Health Check ============
	r.GET("/health", handlers.HealthCheckHandler)
	if deps.Upstream != nil {
		r.GET("/health/upstream", handlers.UpstreamHealthHandler(deps.Upstream))
	}

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authorized := localhostOnly.RestrictWithToken(cfg.Token)

	// ============ UI events ============
	if deps.Surface != nil {
		uiGroup := r.Group("/ui", authorized)
		{
			uiGroup.GET("/actions", deps.Surface.ListEvents)
			uiGroup.POST("/click/:action", deps.Surface.HandleClick)
			uiGroup.POST("/submit/:form", deps.Surface.HandleSubmit)
			if deps.Notifications != nil {
				uiGroup.GET("/notifications", notificationsHandler(deps.Notifications))
			}
		}
	}

	// ============ WebSocket ============
	if deps.PushService != nil {
		wsHandler := handlers.NewWebSocketHandler(deps.PushService)
		r.GET("/ws", authorized, wsHandler.HandleWebSocket)
		r.GET("/ws/stats", authorized, wsHandler.GetStats)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Endpoint not found",
			"path":    c.Request.URL.Path,
			"code":    "NOT_FOUND",
		})
	})

	return r
}

// notificationsHandler GET /ui/notifications, for surfaces that poll instead of holding a socket
func notificationsHandler(notes *services.RecordingNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"notifications": notes.Notifications(),
		})
	}
}
