// Package api 是 HTTP 接口的对外入口，把归档路由注册到 gin 引擎.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/internal/router"
)

// RegisterRoutes 注册全部归档路由.
func RegisterRoutes(e *gin.Engine, opts router.Options) *gin.Engine {
	router.Register(e, opts)

	return e
}
