package request

import (
	"jobscheduler/internal/model"
	"jobscheduler/pkg/job"
)

type ListJobsReq struct {
	model.ListQuery
	// 租户ID,为空时查询全部租户
	TenantID int64 `json:"tenant_id" form:"tenant_id" binding:"omitempty,min=1"`
}

type RetryJobReq struct {
	// 替换任务参数,为空时沿用原参数
	Params map[string]interface{} `json:"params"`
}

type ScheduleCleanJobLogsReq struct {
	job.CycleValue
	// 保留时长,例如 720h,为空时使用服务配置
	Retention string `json:"retention" binding:"omitempty,duration"`
	// 时区,默认UTC
	TimeZone string `json:"time_zone"`
}
