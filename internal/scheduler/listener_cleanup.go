package scheduler

import (
	"context"

	"go.uber.org/zap"

	"jobscheduler/pkg/logger"
)

type cleanupListener struct {
	service *Service
}

// NewCleanupListener deletes the descriptor of a job once its last fire succeeded
// and no other trigger targets it.
func NewCleanupListener(service *Service) Listener {
	return &cleanupListener{service: service}
}

func (c *cleanupListener) Name() string {
	return "cleanup"
}

func (c *cleanupListener) JobToBeExecuted(context.Context, map[string]interface{}) {}

func (c *cleanupListener) JobExecutionVetoed(context.Context, map[string]interface{}) {}

func (c *cleanupListener) JobWasExecuted(ctx context.Context, jc map[string]interface{}, err error) {
	if err != nil {
		return
	}
	if _, ok := jc[ContextNextFireTime]; ok {
		return
	}
	tenantID, ok := jc[ContextTenantID].(int64)
	if !ok {
		return
	}
	jobID, _ := jc[ContextJobID].(uint64)
	group, _ := jc[ContextJobGroup].(string)
	name, _ := jc[ContextJobName].(string)

	s := c.service
	err = s.tx.Transactional(ctx, func(ctx context.Context) error {
		// 同一任务可能还有其他触发器
		again, err := s.executor.MayFireAgain(ctx, group, name)
		if err != nil || again {
			return err
		}
		return s.deleteDescriptor(ctx, tenantID, jobID)
	})
	if err != nil {
		logger.From(ctx).Warn("job cleanup failed",
			zap.Int64("tenant_id", tenantID), zap.String("job_name", name), zap.Error(err))
	}
}
