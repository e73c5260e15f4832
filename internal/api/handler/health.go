package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger checks a backing dependency.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ActiveCounter reports how many jobs this process is driving.
type ActiveCounter interface {
	ActiveCount() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db   Pinger
	jobs ActiveCounter
}

// NewHealthHandler creates a new health handler; db may be nil.
func NewHealthHandler(db Pinger, jobs ActiveCounter) *HealthHandler {
	return &HealthHandler{db: db, jobs: jobs}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.jobs != nil {
		body["active_jobs"] = h.jobs.ActiveCount()
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}

	c.JSON(http.StatusOK, body)
}
