package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/rednote/api/handler"
	"github.com/use-agent/rednote/config"
	"github.com/use-agent/rednote/scraper"
)

// NewRouter creates the gin engine for the operator-local status surface.
// There is no auth: the endpoints expose run counters only and bind next to
// the MCP port.
func NewRouter(svc *scraper.Service, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(svc, startTime))
	v1.GET("/status", handler.Status(svc, startTime))

	return r
}
