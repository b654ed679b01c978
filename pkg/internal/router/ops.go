package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/handle"
	"github.com/yeisme/fitsvault/pkg/middleware"
)

// RegisterOpsRoutes 注册运维路由. upload_file 与 update_headers 在处理器内按 cookie 与身份鉴权.
func RegisterOpsRoutes(g *gin.RouterGroup, auth configs.AuthConfig) {
	// 非 POST 也要进入处理器，以返回 406 而不是 404
	g.Any("/upload_file/*name", handle.UploadFile)
	g.POST("/update_headers", handle.UpdateHeaders)

	staff := g.Group("", middleware.AuthMiddleware(auth), middleware.RequireMinRole(middleware.RoleStaff))
	{
		staff.GET("/queuestatus", handle.QueueStatus)
		staff.GET("/curation", handle.Curation)
	}
}
