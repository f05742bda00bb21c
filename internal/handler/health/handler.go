package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Pinger is anything whose reachability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	deps    map[string]Pinger
	timeout time.Duration
}

func NewHandler(deps map[string]Pinger) *Handler {
	return &Handler{
		deps:    deps,
		timeout: 2 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	checks := make(gin.H, len(h.deps))
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			checks[name] = "DOWN"
			ready = false
			continue
		}
		checks[name] = "UP"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "checks": checks})
}
