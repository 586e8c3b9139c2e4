package store

import (
	"context"
	"time"

	"jobscheduler/internal/model"
)

var client Factory

// Factory defines the scheduler storage interface.
type Factory interface {
	JobDescriptors() JobDescriptorStore
	JobParameters() JobParameterStore
	JobLogs() JobLogStore
}

// Client return the store client instance.
func Client() Factory {
	return client
}

// SetClient set the store client.
func SetClient(factory Factory) {
	client = factory
}

type JobDescriptorStore interface {
	Create(ctx context.Context, descriptor *model.JobDescriptor) error
	Get(ctx context.Context, tenantID int64, id uint64) (*model.JobDescriptor, error)
	GetByName(ctx context.Context, tenantID int64, jobName string) (*model.JobDescriptor, error)
	// List 按租户分页查询,tenantID为0时查询全部租户
	List(ctx context.Context, tenantID int64, query *model.ListQuery) ([]*model.JobDescriptor, error)
	Delete(ctx context.Context, tenantID int64, id uint64) error
	DeleteByTenant(ctx context.Context, tenantID int64) error
}

type JobParameterStore interface {
	// Set 整体替换任务参数
	Set(ctx context.Context, tenantID int64, jobID uint64, params map[string]interface{}) error
	List(ctx context.Context, tenantID int64, jobID uint64) ([]*model.JobParameter, error)
	DeleteByJob(ctx context.Context, tenantID int64, jobID uint64) error
	DeleteByTenant(ctx context.Context, tenantID int64) error
}

type JobLogStore interface {
	// Record 新增失败记录,已存在时累加重试次数
	Record(ctx context.Context, tenantID int64, jobID uint64, err error, stack string, at time.Time) error
	List(ctx context.Context, tenantID int64, jobID uint64) ([]*model.JobLog, error)
	DeleteByJob(ctx context.Context, tenantID int64, jobID uint64) error
	DeleteBefore(ctx context.Context, tenantID int64, before time.Time) (int64, error)
}
