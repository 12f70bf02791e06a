package http

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router. allowedOrigins is a
// comma-separated list; empty allows all origins.
func SetupRouter(handler *Handler, allowedOrigins string) *gin.Engine {
	router := gin.Default()

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if allowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(allowedOrigins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.POST("/enrich", handler.Enrich)

	datasets := v1.Group("/datasets")
	datasets.GET("", handler.ListDatasets)
	datasets.GET("/:key/sample", handler.GetSample)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	return router
}
