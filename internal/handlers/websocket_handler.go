package handlers

import (
	"errors"
	"net/http"

	"emcp-client/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler serves the UI notification socket
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(pushService *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{pushService: pushService}
}

// HandleWebSocket GET /ws?client=<name>
// Notifications and payment confirmation requests flow out; confirm_payment messages flow in.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	client := c.DefaultQuery("client", "browser")

	err := h.pushService.HandleWebSocket(c.Writer, c.Request, client)
	switch {
	case err == nil:
		logrus.WithField("client", client).Info("📡 [WebSocket] Client connected")
	case errors.Is(err, services.ErrPushServiceClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Notification service is shutting down",
			"code":    "SERVICE_CLOSED",
		})
	default:
		// the upgrader has already answered the request
		logrus.WithError(err).Warn("❌ [WebSocket] Upgrade failed")
	}
}

// GetStats GET /ws/stats
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"active_connections": h.pushService.GetActiveConnections(),
	})
}
