package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/internal/handle"
)

// RegisterSchedulerRoutes 注册定时任务管理路由，要求职员身份.
func RegisterSchedulerRoutes(g *gin.RouterGroup) {
	sched := g.Group("/scheduler")
	{
		sched.GET("/jobs", handle.SchedulerJobs)
		sched.DELETE("/jobs/:id", handle.SchedulerRemoveJob)
		sched.POST("/stop", handle.SchedulerStopJobs)
		sched.GET("/waiting", handle.SchedulerQueueWaiting)
	}
}
