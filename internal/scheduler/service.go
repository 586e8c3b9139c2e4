package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"jobscheduler/internal/event"
	"jobscheduler/internal/model"
	"jobscheduler/internal/store"
	"jobscheduler/pkg/code"
	"jobscheduler/pkg/job"
	"jobscheduler/pkg/storage"
)

// Services are handed to jobs implementing ServiceAware.
type Services struct {
	Stores    store.Factory
	Tx        *storage.TxManager
	Scheduler *Service
	Logger    *zap.Logger
}

// Service is the scheduling facade. Mutating calls join the transaction carried by
// ctx or run in one of their own; tenant scoped calls read the tenant from ctx.
type Service struct {
	engine   *job.Engine
	executor *executor
	stores   store.Factory
	tx       *storage.TxManager
	registry *Registry
	events   event.Service
	chain    *Chain
	services *Services
	logger   *zap.Logger
	now      func() time.Time

	retryMu sync.Mutex
	retry   backoff.BackOff
}

func NewService(engine *job.Engine, stores store.Factory, tx *storage.TxManager, opts ...Option) *Service {
	o := &option{
		retry:   backoff.NewConstantBackOff(DefaultRetryDelay),
		logger:  zap.NewNop(),
		tracer:  otel.GetTracerProvider(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	s := &Service{
		engine:   engine,
		executor: newExecutor(engine, o.nowFunc),
		stores:   stores,
		tx:       tx,
		registry: o.registry,
		events:   o.events,
		logger:   o.logger,
		now:      o.nowFunc,
		retry:    o.retry,
	}
	s.services = &Services{Stores: stores, Tx: tx, Scheduler: s, Logger: o.logger}

	w := &wrapper{service: s, tracer: o.tracer.Tracer("jobscheduler/scheduler")}
	engine.RegisterKind(KindConcurrent, w, false)
	engine.RegisterKind(KindNonConcurrent, w, true)

	s.chain = NewChain(NewTraceListener(o.logger))
	if o.registerer != nil {
		s.chain.Add(NewMetricsListener(o.registerer))
	}
	s.chain.Add(NewCleanupListener(s))
	for _, l := range o.listeners {
		s.chain.Add(l)
	}
	engine.AddListener(s.chain)
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Services() *Services {
	return s.services
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.executor.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("scheduler started", zap.Strings("job_types", s.registry.Types()))
	return nil
}

// Stop waits for running jobs.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.executor.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Service) IsStarted() bool {
	return s.executor.IsStarted()
}

// Schedule persists descriptor when it is new, replaces its parameters when params is
// not nil, and attaches trigger to it.
func (s *Service) Schedule(ctx context.Context, descriptor *model.JobDescriptor, params map[string]interface{},
	trigger Trigger) error {
	tenantID, err := mustTenant(ctx)
	if err != nil {
		return err
	}
	if descriptor == nil || descriptor.JobName == "" {
		return errors.WithStack(code.ErrInvalidParam.WithResult("job name is required"))
	}
	if _, ok := s.registry.Lookup(descriptor.JobType); !ok {
		return errors.WithStack(code.ErrInvalidParam.WithResult("unknown job type " + descriptor.JobType))
	}
	// 已持久化的描述符只能由其所属租户调度
	if descriptor.ID != 0 {
		if err := actAs(ctx, descriptor.TenantID); err != nil {
			return err
		}
	}
	return s.tx.Transactional(ctx, func(ctx context.Context) error {
		if err := s.executor.checkSchedulerState(ctx); err != nil {
			return err
		}
		if descriptor.ID == 0 {
			descriptor.TenantID = tenantID
			if err := s.stores.JobDescriptors().Create(ctx, descriptor); err != nil {
				return err
			}
		}
		if params != nil {
			if err := s.stores.JobParameters().Set(ctx, tenantID, descriptor.ID, params); err != nil {
				return err
			}
		}
		return s.executor.Schedule(ctx, identifier(descriptor), descriptor.DisallowConcurrent, trigger)
	})
}

func identifier(d *model.JobDescriptor) JobIdentifier {
	return JobIdentifier{JobID: d.ID, TenantID: d.TenantID, JobName: d.JobName}
}

// ExecuteAgain fires the job once more after delay.
func (s *Service) ExecuteAgain(ctx context.Context, jobID uint64, delay time.Duration) error {
	tenantID, err := mustTenant(ctx)
	if err != nil {
		return err
	}
	return s.tx.Transactional(ctx, func(ctx context.Context) error {
		return s.executeAgain(ctx, tenantID, jobID, delay)
	})
}

func (s *Service) executeAgain(ctx context.Context, tenantID int64, jobID uint64, delay time.Duration) error {
	descriptor, err := s.stores.JobDescriptors().Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	return s.executor.ExecuteAgain(ctx, identifier(descriptor), descriptor.DisallowConcurrent, delay)
}

// RetryJobThatFailed replaces the parameters when given, clears the failure record
// and fires the job right away.
func (s *Service) RetryJobThatFailed(ctx context.Context, jobID uint64, params map[string]interface{}) error {
	tenantID, err := mustTenant(ctx)
	if err != nil {
		return err
	}
	return s.tx.Transactional(ctx, func(ctx context.Context) error {
		if params != nil {
			if err := s.stores.JobParameters().Set(ctx, tenantID, jobID, params); err != nil {
				return err
			}
		}
		if err := s.stores.JobLogs().DeleteByJob(ctx, tenantID, jobID); err != nil {
			return err
		}
		return s.executeAgain(ctx, tenantID, jobID, 0)
	})
}

// PauseJobs pauses every trigger of tenantID, which must be the tenant of ctx.
func (s *Service) PauseJobs(ctx context.Context, tenantID int64) error {
	if err := actAs(ctx, tenantID); err != nil {
		return err
	}
	return s.tx.Transactional(ctx, func(ctx context.Context) error {
		return s.executor.PauseJobs(ctx, tenantID)
	})
}

func (s *Service) ResumeJobs(ctx context.Context, tenantID int64) error {
	if err := actAs(ctx, tenantID); err != nil {
		return err
	}
	return s.tx.Transactional(ctx, func(ctx context.Context) error {
		return s.executor.ResumeJobs(ctx, tenantID)
	})
}

// Delete removes the job of the current tenant together with its descriptor.
func (s *Service) Delete(ctx context.Context, jobName string) (bool, error) {
	tenantID, err := mustTenant(ctx)
	if err != nil {
		return false, err
	}
	var deleted bool
	err = s.tx.Transactional(ctx, func(ctx context.Context) error {
		var err error
		if deleted, err = s.executor.Delete(ctx, tenantID, jobName); err != nil {
			return err
		}
		descriptor, err := s.stores.JobDescriptors().GetByName(ctx, tenantID, jobName)
		if err != nil {
			if errors.Is(err, code.ErrJobNotFound) {
				return nil
			}
			return err
		}
		return s.deleteDescriptor(ctx, tenantID, descriptor.ID)
	})
	return deleted, err
}

// DeleteJobs removes every job of the current tenant.
func (s *Service) DeleteJobs(ctx context.Context) error {
	tenantID, err := mustTenant(ctx)
	if err != nil {
		return err
	}
	return s.tx.Transactional(ctx, func(ctx context.Context) error {
		if err := s.executor.DeleteJobs(ctx, tenantID); err != nil {
			return err
		}
		if err := s.stores.JobParameters().DeleteByTenant(ctx, tenantID); err != nil {
			return err
		}
		return s.stores.JobDescriptors().DeleteByTenant(ctx, tenantID)
	})
}

func (s *Service) deleteDescriptor(ctx context.Context, tenantID int64, jobID uint64) error {
	if err := s.stores.JobParameters().DeleteByJob(ctx, tenantID, jobID); err != nil {
		return err
	}
	err := s.stores.JobDescriptors().Delete(ctx, tenantID, jobID)
	// 并发删除时描述符可能已不存在
	if errors.Is(err, code.ErrJobNotFound) {
		return nil
	}
	return err
}

// RescheduleJob moves the trigger to startDate and returns its next fire time.
func (s *Service) RescheduleJob(ctx context.Context, triggerName, groupName string,
	startDate time.Time) (time.Time, error) {
	var next time.Time
	err := s.tx.Transactional(ctx, func(ctx context.Context) error {
		var err error
		next, err = s.executor.RescheduleJob(ctx, triggerName, groupName, startDate)
		return err
	})
	return next, err
}

func (s *Service) RescheduleErroneousTriggers(ctx context.Context) error {
	return s.tx.Transactional(ctx, s.executor.RescheduleErroneousTriggers)
}

func (s *Service) IsExistingJob(ctx context.Context, jobName string) (bool, error) {
	tenantID, err := mustTenant(ctx)
	if err != nil {
		return false, err
	}
	return s.executor.IsExistingJob(ctx, tenantID, jobName)
}

// GetJobs lists the job names of the current tenant.
func (s *Service) GetJobs(ctx context.Context) ([]string, error) {
	tenantID, err := mustTenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.executor.JobNames(ctx, tenantID)
}

func (s *Service) GetAllJobs(ctx context.Context) ([]string, error) {
	return s.executor.AllJobNames(ctx)
}

func (s *Service) MayFireAgain(ctx context.Context, groupName, jobName string) (bool, error) {
	return s.executor.MayFireAgain(ctx, groupName, jobName)
}

func (s *Service) retryDelay() time.Duration {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	d := s.retry.NextBackOff()
	if d == backoff.Stop {
		return DefaultRetryDelay
	}
	return d
}
