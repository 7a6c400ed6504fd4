package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/rednote/scraper"
)

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when the last run tripped the security verification,
// because every following run will short-circuit until an operator clears it.
func Health(svc *scraper.Service, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := svc.Stats()

		status := "healthy"
		if stats.SecurityTriggered {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
			"version": "0.1.0",
		})
	}
}

// Status returns a handler for GET /api/v1/status with the full run counters.
func Status(svc *scraper.Service, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uptime": time.Since(startTime).Round(time.Second).String(),
			"stats":  svc.Stats(),
		})
	}
}
