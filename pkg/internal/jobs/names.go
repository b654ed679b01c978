package jobs

import "time"

// 任务名称常量.
const (
	JobQueueSweep  = "queue.sweep"
	JobQueueGauges = "queue.gauges"
)

// 调度参数.
const (
	CronQueueSweep      = "* * * * *"
	QueueGaugesInterval = 30 * time.Second
)
