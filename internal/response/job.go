package response

import (
	"time"

	"jobscheduler/internal/model"
)

type ListJobsRes struct {
	model.Pagination
	List []*JobItem `json:"list"`
}

type JobItem struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TenantID  int64     `json:"tenant_id"`
	JobName   string    `json:"job_name"`
	JobType   string    `json:"job_type"`
	// 描述
	Description        string `json:"description"`
	DisallowConcurrent bool   `json:"disallow_concurrent"`
}

type JobLogsRes struct {
	List []*JobLogItem `json:"list"`
}

type JobLogItem struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	ExceptionMessage string    `json:"exception_message"`
	Stack            string    `json:"stack"`
	RetryNumber      int       `json:"retry_number"`
	LastUpdateDate   time.Time `json:"last_update_date"`
}
