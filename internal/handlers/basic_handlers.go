package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker upstream marketplace health check
type HealthChecker interface {
	Health(ctx context.Context) error
	BaseURL() string
}

// HealthCheckHandler GET /health
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "emcp-client",
	})
}

// UpstreamHealthHandler GET /health/upstream
func UpstreamHealthHandler(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := checker.Health(ctx); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"status":      "unreachable",
				"marketplace": checker.BaseURL(),
				"error":       err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"marketplace": checker.BaseURL(),
		})
	}
}
