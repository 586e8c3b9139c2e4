package mysql

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"jobscheduler/internal/model"
	"jobscheduler/pkg/code"
)

type jobParameter struct {
	*dataStore
}

func (j *jobParameter) Set(ctx context.Context, tenantID int64, jobID uint64, params map[string]interface{}) error {
	list := make([]*model.JobParameter, 0, len(params))
	for key, value := range params {
		p, err := model.NewJobParameter(tenantID, jobID, key, value)
		if err != nil {
			return errors.WithStack(code.ErrInvalidParam.WithResult(err.Error()))
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].Key < list[k].Key })
	err := j.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND job_descriptor_id = ?", tenantID, jobID).
			Delete(&model.JobParameter{}).Error; err != nil {
			return err
		}
		if len(list) == 0 {
			return nil
		}
		return tx.Create(&list).Error
	})
	if err != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return nil
}

func (j *jobParameter) List(ctx context.Context, tenantID int64, jobID uint64) ([]*model.JobParameter, error) {
	var list []*model.JobParameter
	if err := j.conn(ctx).Where("tenant_id = ? AND job_descriptor_id = ?", tenantID, jobID).
		Order("param_key").Find(&list).Error; err != nil {
		return nil, errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return list, nil
}

func (j *jobParameter) DeleteByJob(ctx context.Context, tenantID int64, jobID uint64) error {
	if err := j.conn(ctx).Where("tenant_id = ? AND job_descriptor_id = ?", tenantID, jobID).
		Delete(&model.JobParameter{}).Error; err != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return nil
}

func (j *jobParameter) DeleteByTenant(ctx context.Context, tenantID int64) error {
	if err := j.conn(ctx).Where("tenant_id = ?", tenantID).Delete(&model.JobParameter{}).Error; err != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return nil
}
