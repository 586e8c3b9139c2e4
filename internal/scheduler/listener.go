package scheduler

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobscheduler/pkg/job"
	"jobscheduler/pkg/logger"
)

// keys of the flattened execution context handed to listeners
const (
	ContextJobName           = "jobName"
	ContextJobGroup          = "jobGroup"
	ContextJobType           = "jobType"
	ContextJobData           = "jobData"
	ContextTriggerName       = "triggerName"
	ContextTriggerGroup      = "triggerGroup"
	ContextTenantID          = "tenantId"
	ContextJobID             = "jobId"
	ContextFireInstanceID    = "fireInstanceId"
	ContextFireTime          = "fireTime"
	ContextScheduledFireTime = "scheduledFireTime"
	ContextPreviousFireTime  = "previousFireTime"
	// ContextNextFireTime is absent when the trigger will not fire again.
	ContextNextFireTime = "nextFireTime"
	ContextRefireCount  = "refireCount"
	ContextJobRunTime   = "jobRunTime"
)

// Listener observes job executions. It never sees the job instance, only a copy of
// the execution context.
type Listener interface {
	Name() string
	JobToBeExecuted(ctx context.Context, jc map[string]interface{})
	JobExecutionVetoed(ctx context.Context, jc map[string]interface{})
	JobWasExecuted(ctx context.Context, jc map[string]interface{}, err error)
}

// Chain calls its listeners in order. A failing listener is logged and skipped.
type Chain struct {
	mu        sync.RWMutex
	listeners []Listener
}

var _ job.JobListener = (*Chain)(nil)

func NewChain(listeners ...Listener) *Chain {
	return &Chain{listeners: listeners}
}

func (c *Chain) Add(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Chain) Listeners() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]Listener, len(c.listeners))
	copy(list, c.listeners)
	return list
}

func (c *Chain) Name() string {
	return "scheduler-listener-chain"
}

func (c *Chain) JobToBeExecuted(ctx context.Context, ec *job.ExecutionContext) {
	c.each(ctx, ec, func(ctx context.Context, l Listener, jc map[string]interface{}) {
		l.JobToBeExecuted(ctx, jc)
	})
}

func (c *Chain) JobExecutionVetoed(ctx context.Context, ec *job.ExecutionContext) {
	c.each(ctx, ec, func(ctx context.Context, l Listener, jc map[string]interface{}) {
		l.JobExecutionVetoed(ctx, jc)
	})
}

func (c *Chain) JobWasExecuted(ctx context.Context, ec *job.ExecutionContext, err error) {
	c.each(ctx, ec, func(ctx context.Context, l Listener, jc map[string]interface{}) {
		l.JobWasExecuted(ctx, jc, err)
	})
}

func (c *Chain) each(ctx context.Context, ec *job.ExecutionContext,
	f func(ctx context.Context, l Listener, jc map[string]interface{})) {
	if id, err := identifierOf(ec.JobDetail); err == nil {
		ctx = WithTenant(ctx, id.TenantID)
	}
	for _, l := range c.Listeners() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.From(ctx).Error("listener panic",
						zap.String("listener", l.Name()),
						zap.Any("error", r),
						zap.ByteString("stack", debug.Stack()))
				}
			}()
			f(ctx, l, flatten(ec))
		}()
	}
}

// flatten 每个监听器拿到独立的副本
func flatten(ec *job.ExecutionContext) map[string]interface{} {
	jc := map[string]interface{}{
		ContextFireInstanceID: ec.FireInstanceID,
		ContextRefireCount:    ec.RefireCount,
		ContextJobRunTime:     ec.JobRunTime,
	}
	setTime(jc, ContextFireTime, ec.FireTime)
	setTime(jc, ContextScheduledFireTime, ec.ScheduledFireTime)
	setTime(jc, ContextPreviousFireTime, ec.PreviousFireTime)
	setTime(jc, ContextNextFireTime, ec.NextFireTime)
	if ec.Trigger != nil {
		jc[ContextTriggerName] = ec.Trigger.Key.Name
		jc[ContextTriggerGroup] = ec.Trigger.Key.Group
	}
	if d := ec.JobDetail; d != nil {
		jc[ContextJobName] = d.Key.Name
		jc[ContextJobGroup] = d.Key.Group
		jc[ContextJobType] = d.Kind
		data := make(map[string]string, len(d.Data))
		for k, v := range d.Data {
			data[k] = v
		}
		jc[ContextJobData] = data
		if tenantID, err := strconv.ParseInt(d.Data[dataTenantID], 10, 64); err == nil {
			jc[ContextTenantID] = tenantID
		}
		if jobID, err := strconv.ParseUint(d.Data[dataJobID], 10, 64); err == nil {
			jc[ContextJobID] = jobID
		}
	}
	return jc
}

func setTime(jc map[string]interface{}, key string, t time.Time) {
	if !t.IsZero() {
		jc[key] = t
	}
}
