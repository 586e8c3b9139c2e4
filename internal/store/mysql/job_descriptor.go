package mysql

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"jobscheduler/internal/model"
	"jobscheduler/pkg/code"
)

type jobDescriptor struct {
	*dataStore
}

func (j *jobDescriptor) Create(ctx context.Context, descriptor *model.JobDescriptor) error {
	if err := j.conn(ctx).Create(descriptor).Error; err != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return nil
}

func (j *jobDescriptor) Get(ctx context.Context, tenantID int64, id uint64) (*model.JobDescriptor, error) {
	return j.take(j.conn(ctx).Where("tenant_id = ? AND id = ?", tenantID, id))
}

func (j *jobDescriptor) GetByName(ctx context.Context, tenantID int64, jobName string) (*model.JobDescriptor, error) {
	return j.take(j.conn(ctx).Where("tenant_id = ? AND job_name = ?", tenantID, jobName))
}

func (j *jobDescriptor) take(query *gorm.DB) (*model.JobDescriptor, error) {
	var descriptor model.JobDescriptor
	if err := query.Take(&descriptor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithStack(code.ErrJobNotFound)
		}
		return nil, errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return &descriptor, nil
}

func (j *jobDescriptor) List(ctx context.Context, tenantID int64, query *model.ListQuery) ([]*model.JobDescriptor, error) {
	var list []*model.JobDescriptor
	db := j.conn(ctx).Model(&model.JobDescriptor{})
	if tenantID != 0 {
		db = db.Where("tenant_id = ?", tenantID)
	}
	if query == nil {
		query = &model.ListQuery{Pagination: model.Pagination{PageSize: -1}, Sort: model.Sort{SortField: "job_name asc"}}
	}
	if err := query.Build(ctx, db).Find(&list).Error; err != nil {
		return nil, errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return list, nil
}

// Delete reports ErrJobNotFound when tenantID owns no descriptor id.
func (j *jobDescriptor) Delete(ctx context.Context, tenantID int64, id uint64) error {
	result := j.conn(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&model.JobDescriptor{})
	if result.Error != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(result.Error.Error()))
	}
	if result.RowsAffected == 0 {
		return errors.WithStack(code.ErrJobNotFound)
	}
	return nil
}

func (j *jobDescriptor) DeleteByTenant(ctx context.Context, tenantID int64) error {
	if err := j.conn(ctx).Where("tenant_id = ?", tenantID).Delete(&model.JobDescriptor{}).Error; err != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return nil
}
