package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/context"
	"github.com/yeisme/fitsvault/pkg/internal/storage"
)

// StorageMiddleware 把存储管理器放入 request context，处理器经由它取目录、文件存储与缓存.
func StorageMiddleware(manager *storage.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(context.WithStorageManager(c.Request.Context(), manager))
		c.Next()
	}
}
