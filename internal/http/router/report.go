package router

import (
	"github.com/gin-gonic/gin"

	"opspulse.app/reporter/internal/http/handler"
)

func ReportRouter(rg *gin.RouterGroup, h *handler.ReportHandler) {
	rg.POST("/trigger", h.TriggerAll)
	rg.GET("/jobs", h.ListJobs)
	rg.GET("/jobs/:id", h.GetJob)
	rg.POST("/jobs/:id/trigger", h.TriggerJob)
	rg.GET("/jobs/:id/runs", h.ListRuns)
}
