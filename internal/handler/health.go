package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"autotrader/internal/orchestrator"
)

type HealthHandler struct {
	DB   *gorm.DB
	Loop *orchestrator.Orchestrator

	// StaleAfter marks the loop unhealthy when the last cycle is older than
	// this. Zero disables the check, for setups running without the loop.
	StaleAfter time.Duration
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	out := gin.H{"status": "ok"}
	if h.Loop != nil {
		last := h.Loop.LastCycle()
		if !last.IsZero() {
			out["last_cycle_at"] = last.UTC().Format(time.RFC3339)
		}
		if h.StaleAfter > 0 && (last.IsZero() || time.Since(last) > h.StaleAfter) {
			out["status"] = "stale"
			c.JSON(http.StatusServiceUnavailable, out)
			return
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
