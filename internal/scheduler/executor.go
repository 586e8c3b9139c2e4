package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"jobscheduler/pkg/code"
	"jobscheduler/pkg/job"
	"jobscheduler/pkg/logger"
	"jobscheduler/pkg/storage"
)

// native job kinds registered on the engine
const (
	KindConcurrent    = "jobscheduler.concurrent"
	KindNonConcurrent = "jobscheduler.non-concurrent"
)

// keys of the opaque data carried by a native job
const (
	dataTenantID = "tenantId"
	dataJobID    = "jobId"
	dataJobName  = "jobName"
)

// againDescription 标记由 ExecuteAgain 创建的一次性触发器
const againDescription = "execute again"

// Executor binds scheduler jobs to the native engine. Every mutating call
// must run inside a transaction of a started scheduler.
type Executor interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsStarted() bool

	Schedule(ctx context.Context, id JobIdentifier, disallowConcurrent bool, trigger Trigger) error
	ExecuteAgain(ctx context.Context, id JobIdentifier, disallowConcurrent bool, delay time.Duration) error
	Delete(ctx context.Context, tenantID int64, jobName string) (bool, error)
	DeleteJobs(ctx context.Context, tenantID int64) error
	PauseJobs(ctx context.Context, tenantID int64) error
	ResumeJobs(ctx context.Context, tenantID int64) error
	RescheduleJob(ctx context.Context, triggerName, groupName string, startDate time.Time) (time.Time, error)
	RescheduleErroneousTriggers(ctx context.Context) error

	IsExistingJob(ctx context.Context, tenantID int64, jobName string) (bool, error)
	JobNames(ctx context.Context, tenantID int64) ([]string, error)
	AllJobNames(ctx context.Context) ([]string, error)
	MayFireAgain(ctx context.Context, groupName, jobName string) (bool, error)
}

type executor struct {
	engine *job.Engine
	// signaler 可选,缺失时依赖引擎轮询
	signaler job.Signaler
	now      func() time.Time
}

// NewExecutor wraps engine. When the engine can be signaled, new fire times are
// observed right after the surrounding transaction commits.
func NewExecutor(engine *job.Engine) Executor {
	return newExecutor(engine, time.Now)
}

func newExecutor(engine *job.Engine, now func() time.Time) *executor {
	e := &executor{engine: engine, now: now}
	var v interface{} = engine
	if s, ok := v.(job.Signaler); ok {
		e.signaler = s
	}
	return e
}

func jobKey(tenantID int64, jobName string) job.JobKey {
	return job.NewJobKey(Group(tenantID), jobName)
}

func nativeJob(id JobIdentifier, disallowConcurrent bool) *job.JobDetail {
	kind := KindConcurrent
	if disallowConcurrent {
		kind = KindNonConcurrent
	}
	return &job.JobDetail{
		Key:  jobKey(id.TenantID, id.JobName),
		Kind: kind,
		Data: map[string]string{
			dataTenantID: strconv.FormatInt(id.TenantID, 10),
			dataJobID:    strconv.FormatUint(id.JobID, 10),
			dataJobName:  id.JobName,
		},
		DisallowConcurrent: disallowConcurrent,
	}
}

// identifierOf 从引擎任务数据还原任务标识
func identifierOf(detail *job.JobDetail) (JobIdentifier, error) {
	tenantID, err := strconv.ParseInt(detail.Data[dataTenantID], 10, 64)
	if err != nil {
		return JobIdentifier{}, errors.Wrapf(err, "job %s has no tenant", detail.Key)
	}
	jobID, err := strconv.ParseUint(detail.Data[dataJobID], 10, 64)
	if err != nil {
		return JobIdentifier{}, errors.Wrapf(err, "job %s has no job id", detail.Key)
	}
	return JobIdentifier{JobID: jobID, TenantID: tenantID, JobName: detail.Data[dataJobName]}, nil
}

func (e *executor) Start(ctx context.Context) error {
	return wrap(e.engine.Start(ctx), "start scheduler")
}

func (e *executor) Shutdown(context.Context) error {
	return wrap(e.engine.Shutdown(true), "shutdown scheduler")
}

func (e *executor) IsStarted() bool {
	return e.engine.IsStarted()
}

func (e *executor) checkSchedulerState(ctx context.Context) error {
	if !e.engine.IsStarted() {
		return errors.WithStack(code.ErrSchedulerNotStarted)
	}
	if !storage.InTransaction(ctx) {
		return errors.WithStack(code.ErrNoActiveTransaction)
	}
	return nil
}

// signalOnCommit 事务提交后唤醒调度循环,回滚时不通知
func (e *executor) signalOnCommit(ctx context.Context, candidate time.Time) {
	if e.signaler == nil {
		return
	}
	err := storage.RegisterSynchronization(ctx, storage.OnCommit(func(context.Context) {
		e.signaler.SignalSchedulingChange(candidate)
	}))
	if err != nil {
		e.signaler.SignalSchedulingChange(candidate)
	}
}

func (e *executor) Schedule(ctx context.Context, id JobIdentifier, disallowConcurrent bool, trigger Trigger) error {
	if err := e.checkSchedulerState(ctx); err != nil {
		return err
	}
	if trigger == nil {
		return &Error{Code: code.ErrScheduler, Err: errors.Errorf("job %s has no trigger", id)}
	}
	detail := nativeJob(id, disallowConcurrent)
	name := trigger.Name()
	if name == "" {
		name = id.JobName
	}
	nt := trigger.native(job.NewTriggerKey(Group(id.TenantID), name), detail.Key)

	exists, err := e.engine.CheckJobExists(ctx, detail.Key)
	if err != nil {
		return wrap(err, "check job %s", id)
	}
	var next time.Time
	if exists {
		if err = e.assertSameJob(ctx, detail.Key, id); err != nil {
			return err
		}
		next, err = e.engine.ScheduleTrigger(ctx, nt)
	} else {
		next, err = e.engine.ScheduleJob(ctx, detail, nt)
	}
	if err != nil {
		return wrap(err, "schedule job %s", id)
	}
	logger.From(ctx).Info("job scheduled",
		zap.Stringer("job", detail.Key), zap.Stringer("trigger", nt.Key), zap.Time("next_fire_time", next))
	e.signalOnCommit(ctx, next)
	return nil
}

// assertSameJob 引擎任务必须属于同一个任务ID,否则拒绝复用
func (e *executor) assertSameJob(ctx context.Context, key job.JobKey, id JobIdentifier) error {
	detail, err := e.engine.GetJobDetail(ctx, key)
	if err != nil {
		return wrap(err, "retrieve job %s", key)
	}
	if detail.Data[dataJobID] != strconv.FormatUint(id.JobID, 10) {
		return &Error{Code: code.ErrScheduler, Err: errors.Errorf(
			"job %s is bound to job id %s, not %d", key, detail.Data[dataJobID], id.JobID)}
	}
	return nil
}

func (e *executor) ExecuteAgain(ctx context.Context, id JobIdentifier, disallowConcurrent bool,
	delay time.Duration) error {
	if err := e.checkSchedulerState(ctx); err != nil {
		return err
	}
	key := jobKey(id.TenantID, id.JobName)
	at := e.now().Add(delay)
	log := logger.From(ctx).With(zap.Stringer("job", key), zap.Duration("delay", delay))

	exists, err := e.engine.CheckJobExists(ctx, key)
	if err != nil {
		return wrap(err, "check job %s", id)
	}
	if !exists {
		// 唯一的一次性触发器已清理,重建任务
		t := againTrigger(job.NewTriggerKey(key.Group, uniqueTriggerName(id.JobName)), key, at)
		if _, err = e.engine.ScheduleJob(ctx, nativeJob(id, disallowConcurrent), t); err != nil {
			return wrap(err, "recreate job %s", id)
		}
		log.Info("job recreated to execute again", zap.Stringer("trigger", t.Key))
		e.signalOnCommit(ctx, at)
		return nil
	}
	if err = e.assertSameJob(ctx, key, id); err != nil {
		return err
	}
	triggers, err := e.engine.GetTriggersOfJob(ctx, key)
	if err != nil {
		return wrap(err, "triggers of job %s", id)
	}
	if reuse := reusableTrigger(triggers); reuse != nil {
		if reuse.JobKey != key {
			return &Error{Code: code.ErrScheduler, Err: errors.Errorf(
				"trigger %s targets %s, not %s", reuse.Key, reuse.JobKey, key)}
		}
		t := againTrigger(reuse.Key, key, at)
		t.Priority = reuse.Priority
		if _, err = e.engine.RescheduleJob(ctx, reuse.Key, t); err != nil {
			return wrap(err, "reuse trigger %s", reuse.Key)
		}
		log.Info("trigger reused to execute again", zap.Stringer("trigger", t.Key))
		e.signalOnCommit(ctx, at)
		return nil
	}
	t := againTrigger(job.NewTriggerKey(key.Group, uniqueTriggerName(id.JobName)), key, at)
	if _, err = e.engine.ScheduleTrigger(ctx, t); err != nil {
		return wrap(err, "add trigger to job %s", id)
	}
	log.Info("trigger added to execute again", zap.Stringer("trigger", t.Key))
	e.signalOnCommit(ctx, at)
	return nil
}

func againTrigger(key job.TriggerKey, jobKey job.JobKey, at time.Time) *job.Trigger {
	t := job.NewOnceTrigger(key, jobKey, at)
	t.Description = againDescription
	return t
}

// reusableTrigger 优先复用不会再触发的触发器,其次复用尚未触发的重试触发器
func reusableTrigger(triggers []*job.Trigger) *job.Trigger {
	for _, t := range triggers {
		if !t.MayFireAgain() {
			return t
		}
	}
	for _, t := range triggers {
		if t.Description == againDescription && t.State != job.StateAcquired {
			return t
		}
	}
	return nil
}

func uniqueTriggerName(jobName string) string {
	return jobName + "-" + uuid.NewV4().String()
}

// Delete 先暂停再删除,避免删除时恰好触发
func (e *executor) Delete(ctx context.Context, tenantID int64, jobName string) (bool, error) {
	if err := e.checkSchedulerState(ctx); err != nil {
		return false, err
	}
	key := jobKey(tenantID, jobName)
	if err := e.engine.PauseJob(ctx, key); err != nil {
		return false, wrap(err, "pause job %s", key)
	}
	deleted, err := e.engine.DeleteJob(ctx, key)
	if err != nil {
		return false, wrap(err, "delete job %s", key)
	}
	return deleted, nil
}

func (e *executor) DeleteJobs(ctx context.Context, tenantID int64) error {
	if err := e.checkSchedulerState(ctx); err != nil {
		return err
	}
	keys, err := e.engine.GetJobKeys(ctx, Group(tenantID))
	if err != nil {
		return wrap(err, "job keys of tenant %d", tenantID)
	}
	for _, key := range keys {
		if _, err = e.Delete(ctx, tenantID, key.Name); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) PauseJobs(ctx context.Context, tenantID int64) error {
	if err := e.checkSchedulerState(ctx); err != nil {
		return err
	}
	return wrap(e.engine.PauseTriggerGroup(ctx, Group(tenantID)), "pause tenant %d", tenantID)
}

func (e *executor) ResumeJobs(ctx context.Context, tenantID int64) error {
	if err := e.checkSchedulerState(ctx); err != nil {
		return err
	}
	if err := e.engine.ResumeTriggerGroup(ctx, Group(tenantID)); err != nil {
		return wrap(err, "resume tenant %d", tenantID)
	}
	e.signalOnCommit(ctx, time.Time{})
	return nil
}

func (e *executor) RescheduleJob(ctx context.Context, triggerName, groupName string,
	startDate time.Time) (time.Time, error) {
	if err := e.checkSchedulerState(ctx); err != nil {
		return time.Time{}, err
	}
	key := job.NewTriggerKey(groupName, triggerName)
	old, err := e.engine.GetTrigger(ctx, key)
	if err != nil {
		return time.Time{}, wrap(err, "retrieve trigger %s", key)
	}
	t := old.Clone()
	t.StartTime = startDate
	t.NextFireTime = time.Time{}
	t.PreviousFireTime = time.Time{}
	t.TimesTriggered = 0
	next, err := e.engine.RescheduleJob(ctx, key, t)
	if err != nil {
		return time.Time{}, wrap(err, "reschedule trigger %s", key)
	}
	e.signalOnCommit(ctx, next)
	return next, nil
}

// RescheduleErroneousTriggers 暂停再恢复处于ERROR状态的触发器,使其重新参与调度
func (e *executor) RescheduleErroneousTriggers(ctx context.Context) error {
	if err := e.checkSchedulerState(ctx); err != nil {
		return err
	}
	groups, err := e.engine.GetTriggerGroupNames(ctx)
	if err != nil {
		return wrap(err, "trigger groups")
	}
	for _, group := range groups {
		keys, err := e.engine.GetTriggerKeys(ctx, group)
		if err != nil {
			return wrap(err, "trigger keys of %s", group)
		}
		for _, key := range keys {
			state, err := e.engine.GetTriggerState(ctx, key)
			if err != nil {
				return wrap(err, "state of trigger %s", key)
			}
			if state != job.StateError {
				continue
			}
			if err = e.engine.PauseTrigger(ctx, key); err != nil {
				return wrap(err, "pause trigger %s", key)
			}
			if err = e.engine.ResumeTrigger(ctx, key); err != nil {
				return wrap(err, "resume trigger %s", key)
			}
			logger.From(ctx).Info("erroneous trigger rescheduled", zap.Stringer("trigger", key))
		}
	}
	e.signalOnCommit(ctx, time.Time{})
	return nil
}

func (e *executor) IsExistingJob(ctx context.Context, tenantID int64, jobName string) (bool, error) {
	exists, err := e.engine.CheckJobExists(ctx, jobKey(tenantID, jobName))
	return exists, wrap(err, "check job %s", jobName)
}

func (e *executor) JobNames(ctx context.Context, tenantID int64) ([]string, error) {
	keys, err := e.engine.GetJobKeys(ctx, Group(tenantID))
	if err != nil {
		return nil, wrap(err, "job keys of tenant %d", tenantID)
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.Name)
	}
	return names, nil
}

func (e *executor) AllJobNames(ctx context.Context) ([]string, error) {
	groups, err := e.engine.GetJobGroupNames(ctx)
	if err != nil {
		return nil, wrap(err, "job groups")
	}
	var names []string
	for _, group := range groups {
		keys, err := e.engine.GetJobKeys(ctx, group)
		if err != nil {
			return nil, wrap(err, "job keys of %s", group)
		}
		for _, key := range keys {
			names = append(names, key.Name)
		}
	}
	return names, nil
}

func (e *executor) MayFireAgain(ctx context.Context, groupName, jobName string) (bool, error) {
	triggers, err := e.engine.GetTriggersOfJob(ctx, job.NewJobKey(groupName, jobName))
	if err != nil {
		return false, wrap(err, "triggers of job %s.%s", groupName, jobName)
	}
	for _, t := range triggers {
		if t.MayFireAgain() {
			return true, nil
		}
	}
	return false, nil
}
