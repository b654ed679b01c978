package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/configs"
)

// CORSMiddleware 浏览器端需要读取下载文件名、缓存状态与请求 ID. 没有配置来源时放开全部.
func CORSMiddleware(cfg configs.ServerConfig) gin.HandlerFunc {
	config := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		config.AllowOrigins = cfg.CORSOrigins
		config.AllowCredentials = true
	} else {
		config.AllowAllOrigins = true
	}

	config.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	config.AddAllowHeaders("Authorization", RequestIDHeader, "If-None-Match", "Cache-Control")
	config.ExposeHeaders = []string{"Content-Disposition", "Content-Length", "ETag", "Retry-After", RequestIDHeader, "X-Cache"}

	if !cfg.Debug {
		config.MaxAge = 12 * time.Hour
	}

	return cors.New(config)
}
