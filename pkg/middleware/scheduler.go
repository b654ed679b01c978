package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/context"
	"github.com/yeisme/fitsvault/pkg/scheduler"
)

// SchedulerMiddleware 把调度器放入 request context，供 /api/v1/scheduler 管理接口使用.
// sched 为 nil 时不注册任何东西，接口返回 503.
func SchedulerMiddleware(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sched != nil {
			c.Request = c.Request.WithContext(context.WithScheduler(c.Request.Context(), sched))
		}

		c.Next()
	}
}

// GetScheduler 当前请求可用的调度器.
func GetScheduler(c *gin.Context) *scheduler.Scheduler {
	return context.GetScheduler(c.Request.Context())
}
