package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/internal/handle"
)

// RegisterHealthCheckRoute 汇总检查在 /health，单个组件在 /health/<component>.
func RegisterHealthCheckRoute(g *gin.RouterGroup) {
	g.GET("/health", handle.Health)

	healthRoutes := g.Group("/health")
	{
		healthRoutes.GET("/db", handle.HealthDB)
		healthRoutes.GET("/s3", handle.HealthS3)
		healthRoutes.GET("/blob", handle.HealthBlob)
		healthRoutes.GET("/kv", handle.HealthKV)
		healthRoutes.GET("/mq", handle.HealthMQ)
	}
}
