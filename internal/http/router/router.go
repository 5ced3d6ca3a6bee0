package router

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"opspulse.app/reporter/internal/http/handler"
)

const apiKeyHeader = "X-API-Key"

type RouterConfig struct {
	AdminAPIKey string
}

func SetupRoutes(router *gin.Engine, reports *handler.ReportHandler, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(requireAPIKey(cfg.AdminAPIKey))
	{
		ReportRouter(v1.Group("/reports"), reports)
	}
}

func requireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(apiKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}
