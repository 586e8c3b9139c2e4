package mysql

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"jobscheduler/internal/model"
	"jobscheduler/pkg/code"
	"jobscheduler/pkg/storage"
)

type jobLog struct {
	*dataStore
}

func (j *jobLog) Record(ctx context.Context, tenantID int64, jobID uint64, cause error, stack string,
	at time.Time) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	err := j.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var log model.JobLog
		err := tx.Where("tenant_id = ? AND job_descriptor_id = ?", tenantID, jobID).Take(&log).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model.JobLog{
				Tenant:           storage.Tenant{TenantID: tenantID},
				JobDescriptorID:  jobID,
				ExceptionMessage: message,
				Stack:            stack,
				LastUpdateDate:   at,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&log).Updates(map[string]interface{}{
			"exception_message": message,
			"stack":             stack,
			"retry_number":      gorm.Expr("retry_number + ?", 1),
			"last_update_date":  at,
		}).Error
	})
	if err != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return nil
}

func (j *jobLog) List(ctx context.Context, tenantID int64, jobID uint64) ([]*model.JobLog, error) {
	var list []*model.JobLog
	if err := j.conn(ctx).Where("tenant_id = ? AND job_descriptor_id = ?", tenantID, jobID).
		Find(&list).Error; err != nil {
		return nil, errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return list, nil
}

func (j *jobLog) DeleteByJob(ctx context.Context, tenantID int64, jobID uint64) error {
	if err := j.conn(ctx).Where("tenant_id = ? AND job_descriptor_id = ?", tenantID, jobID).
		Delete(&model.JobLog{}).Error; err != nil {
		return errors.WithStack(code.ErrInternalServerError.WithResult(err.Error()))
	}
	return nil
}

func (j *jobLog) DeleteBefore(ctx context.Context, tenantID int64, before time.Time) (int64, error) {
	result := j.conn(ctx).Where("tenant_id = ? AND last_update_date < ?", tenantID, before).Delete(&model.JobLog{})
	if result.Error != nil {
		return 0, errors.WithStack(code.ErrInternalServerError.WithResult(result.Error.Error()))
	}
	return result.RowsAffected, nil
}
