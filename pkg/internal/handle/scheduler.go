package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yeisme/fitsvault/pkg/internal/types"
	"github.com/yeisme/fitsvault/pkg/middleware"
	"github.com/yeisme/fitsvault/pkg/scheduler"
)

// SchedulerJobsResponse 定时任务列表.
type SchedulerJobsResponse struct {
	Jobs []scheduler.JobInfo `json:"jobs"`
}

// SchedulerWaitingResponse 等待执行的任务数.
type SchedulerWaitingResponse struct {
	Waiting int `json:"waiting"`
}

func schedulerOf(c *gin.Context) (*scheduler.Scheduler, bool) {
	sched := middleware.GetScheduler(c)
	if sched == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, types.ErrorResponse{Error: "scheduler not running", Code: "no_scheduler"})
		return nil, false
	}

	return sched, true
}

// SchedulerJobs 返回所有定时任务 (队列扫描、队列指标等).
//
//	@Summary	定时任务列表
//	@Tags		调度
//	@Produce	json
//	@Success	200	{object}	handle.SchedulerJobsResponse
//	@Failure	503	{object}	types.ErrorResponse
//	@Router		/api/v1/scheduler/jobs [get]
func SchedulerJobs(c *gin.Context) {
	sched, ok := schedulerOf(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, SchedulerJobsResponse{Jobs: sched.GetJobInfos()})
}

// SchedulerStopJobs 停止所有定时任务.
//
//	@Summary	停止所有定时任务
//	@Tags		调度
//	@Produce	json
//	@Success	200	{object}	types.MessageResponse
//	@Router		/api/v1/scheduler/stop [post]
func SchedulerStopJobs(c *gin.Context) {
	sched, ok := schedulerOf(c)
	if !ok {
		return
	}

	if err := sched.StopJobs(); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error(), Code: "internal"})
		return
	}

	c.JSON(http.StatusOK, types.MessageResponse{Message: "jobs stopped"})
}

// SchedulerRemoveJob 根据 id 删除任务.
//
//	@Summary	删除定时任务
//	@Tags		调度
//	@Produce	json
//	@Param		id	path		string	true	"任务 ID"
//	@Success	200	{object}	types.MessageResponse
//	@Failure	400	{object}	types.ErrorResponse
//	@Router		/api/v1/scheduler/jobs/{id} [delete]
func SchedulerRemoveJob(c *gin.Context) {
	sched, ok := schedulerOf(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid job id", Code: "bad_request"})
		return
	}

	if err := sched.RemoveJob(id); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, types.ErrorResponse{Error: err.Error(), Code: "not_found"})
		return
	}

	c.JSON(http.StatusOK, types.MessageResponse{Message: "job removed"})
}

// SchedulerQueueWaiting 返回等待执行的任务数.
//
//	@Summary	等待执行的任务数
//	@Tags		调度
//	@Produce	json
//	@Success	200	{object}	handle.SchedulerWaitingResponse
//	@Router		/api/v1/scheduler/waiting [get]
func SchedulerQueueWaiting(c *gin.Context) {
	sched, ok := schedulerOf(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, SchedulerWaitingResponse{Waiting: sched.JobsWaitingInQueue()})
}
