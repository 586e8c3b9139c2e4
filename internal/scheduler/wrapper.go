package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"jobscheduler/internal/event"
	"jobscheduler/pkg/code"
	"jobscheduler/pkg/job"
	"jobscheduler/pkg/logger"
	"jobscheduler/pkg/routine"
	"jobscheduler/pkg/storage"
)

// failureRecordRetries 失败记录写入的重试次数
const failureRecordRetries = 2

// wrapper is the engine job behind both native kinds. Every fire runs the job
// body in one transaction of its own.
type wrapper struct {
	service *Service
	tracer  trace.Tracer
}

func (w *wrapper) Execute(ctx context.Context, ec *job.ExecutionContext) (err error) {
	id, err := identifierOf(ec.JobDetail)
	if err != nil {
		return job.Unrecoverable(err)
	}
	ctx = WithTenant(ctx, id.TenantID)
	ctx = logger.With(ctx, logger.From(ctx).With(
		zap.Int64("tenant_id", id.TenantID),
		zap.Uint64("job_id", id.JobID)))
	ctx, span := w.tracer.Start(ctx, "JobExecution", trace.WithAttributes(
		attribute.Int64("tenant.id", id.TenantID),
		attribute.String("job.name", id.JobName),
		attribute.String("job.fire_instance_id", ec.FireInstanceID)))
	defer span.End()

	w.fire(ctx, event.JobExecuting, id, ec, nil)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		w.fire(ctx, event.JobCompleted, id, ec, err)
	}()
	return w.execute(ctx, id)
}

func (w *wrapper) execute(ctx context.Context, id JobIdentifier) error {
	s := w.service
	err := s.tx.Transactional(ctx, func(ctx context.Context) error {
		return w.executeInTx(ctx, id)
	})
	if err == nil || !IsRetryable(err) {
		return err
	}
	// 事务已回滚,重新安排一次触发
	delay := s.retryDelay()
	log := logger.From(ctx)
	log.Warn("job will be executed again", zap.Error(err), zap.Duration("delay", delay))
	if againErr := s.tx.Transactional(ctx, func(ctx context.Context) error {
		return s.executeAgain(ctx, id.TenantID, id.JobID, delay)
	}); againErr != nil {
		log.Error("execute again failed", zap.Error(againErr))
	}
	return err
}

func (w *wrapper) executeInTx(ctx context.Context, id JobIdentifier) error {
	s := w.service
	descriptor, err := s.stores.JobDescriptors().Get(ctx, id.TenantID, id.JobID)
	if err != nil {
		if errors.Is(err, code.ErrJobNotFound) {
			// 已执行完或已删除
			logger.From(ctx).Info("job descriptor not found, execution skipped")
			return nil
		}
		return err
	}
	factory, ok := s.registry.Lookup(descriptor.JobType)
	if !ok {
		return job.Unrecoverable(w.fail(ctx, id,
			errors.Errorf("job type %q is not registered", descriptor.JobType)))
	}
	body := factory()
	if err = w.prepare(ctx, id, body); err != nil {
		return w.fail(ctx, id, err)
	}
	if err = body.Execute(ctx); err == nil {
		err = storage.Flush(ctx)
	}
	switch {
	case err == nil:
		return nil
	case IsRetryable(err):
		return err
	}
	return w.fail(ctx, id, err)
}

func (w *wrapper) prepare(ctx context.Context, id JobIdentifier, body Job) error {
	s := w.service
	if setter, ok := body.(ParameterSetter); ok {
		params, err := s.stores.JobParameters().List(ctx, id.TenantID, id.JobID)
		if err != nil {
			return err
		}
		values := make(map[string]interface{}, len(params))
		for _, p := range params {
			if values[p.Key], err = p.Decode(); err != nil {
				return errors.Wrapf(err, "decode parameter %s", p.Key)
			}
		}
		if err = setter.SetParameters(values); err != nil {
			return err
		}
	}
	if setter, ok := body.(IdentifierSetter); ok {
		setter.SetIdentifier(id)
	}
	if aware, ok := body.(ServiceAware); ok {
		aware.SetServices(s.services)
	}
	return nil
}

// fail 标记事务回滚,事务结束后再记录失败
func (w *wrapper) fail(ctx context.Context, id JobIdentifier, cause error) error {
	logger.From(ctx).Error("job execution failed", zap.Error(cause))
	at := w.service.now()
	stack := fmt.Sprintf("%+v", errors.WithStack(cause))
	if err := storage.SetRollbackOnly(ctx); err != nil {
		logger.From(ctx).Error("set rollback only failed", zap.Error(err))
	}
	if err := storage.RegisterSynchronization(ctx, storage.OnCompletion(func(ctx context.Context, _ bool) {
		w.recordFailure(ctx, id, cause, stack, at)
	})); err != nil {
		w.recordFailure(ctx, id, cause, stack, at)
	}
	return &JobExecutionError{Identifier: id, Err: cause}
}

// recordFailure writes the failure in a new transaction on its own goroutine and
// waits for it, so the engine still sees a synchronous completion.
func (w *wrapper) recordFailure(ctx context.Context, id JobIdentifier, cause error, stack string, at time.Time) {
	s := w.service
	pool := routine.NewPool(WithTenant(ctx, id.TenantID))
	pool.Go(func(ctx context.Context) {
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), failureRecordRetries), ctx)
		err := backoff.Retry(func() error {
			return s.tx.RequiresNew(ctx, func(ctx context.Context) error {
				return s.stores.JobLogs().Record(ctx, id.TenantID, id.JobID, cause, stack, at)
			})
		}, b)
		if err != nil {
			logger.From(ctx).Error("record job failure failed", zap.Error(err))
		}
	})
	pool.Wait()
}

func (w *wrapper) fire(ctx context.Context, t event.Type, id JobIdentifier, ec *job.ExecutionContext, cause error) {
	events := w.service.events
	if events == nil || !events.HasHandlers(t) {
		return
	}
	payload := map[string]interface{}{
		dataJobID:        id.JobID,
		dataJobName:      id.JobName,
		"fireInstanceId": ec.FireInstanceID,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	err := events.Fire(ctx, &event.Event{
		Type:       t,
		TenantID:   id.TenantID,
		Payload:    payload,
		OccurredAt: w.service.now(),
	})
	if err != nil {
		logger.From(ctx).Warn("fire event failed", zap.String("event", string(t)), zap.Error(err))
	}
}
