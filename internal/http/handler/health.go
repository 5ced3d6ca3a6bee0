package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"opspulse.app/reporter/internal/scheduler"
)

// SchedulerStatus is the view of the scheduler the health endpoint needs.
type SchedulerStatus interface {
	Healthy(window time.Duration) bool
	Status() []scheduler.JobStatus
}

// HealthHandler reports whether the scheduler loop is alive and what state
// each registered job is in.
type HealthHandler struct {
	sched  SchedulerStatus
	window time.Duration
}

func NewHealthHandler(sched SchedulerStatus, window time.Duration) *HealthHandler {
	if window <= 0 {
		window = time.Minute
	}
	return &HealthHandler{sched: sched, window: window}
}

// Health answers 200 with the job table while the scheduler loop keeps
// heartbeating, 503 once it has gone quiet for longer than the window.
func (h *HealthHandler) Health(c *gin.Context) {
	if !h.sched.Healthy(h.window) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"jobs":   h.sched.Status(),
	})
}
