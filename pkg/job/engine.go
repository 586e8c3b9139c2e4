package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"jobscheduler/pkg/lockx"
	"jobscheduler/pkg/logger"
	"jobscheduler/pkg/routine"
)

const acquireLockKey = "jobscheduler:acquire"

type option struct {
	threadCount      int
	batchSize        int
	batchTimeWindow  time.Duration
	idleWait         time.Duration
	misfireThreshold time.Duration
	lockTTL          time.Duration
	recoverOnStart   bool
	locker           lockx.Locker
	nowFunc          func() time.Time
}

type Option func(*option)

// WithThreadCount 工作协程数量
func WithThreadCount(n int) Option {
	return func(o *option) {
		o.threadCount = n
	}
}

// WithBatchSize 单次最多获取的触发器数量
func WithBatchSize(n int) Option {
	return func(o *option) {
		o.batchSize = n
	}
}

// WithBatchTimeWindow lets one batch take triggers due up to d after the first
// one. They all fire at the first trigger's time, so d is how early a trigger may fire.
func WithBatchTimeWindow(d time.Duration) Option {
	return func(o *option) {
		o.batchTimeWindow = d
	}
}

// WithIdleWait 没有触发器时的轮询间隔
func WithIdleWait(d time.Duration) Option {
	return func(o *option) {
		o.idleWait = d
	}
}

func WithMisfireThreshold(d time.Duration) Option {
	return func(o *option) {
		o.misfireThreshold = d
	}
}

// WithLocker serializes acquisition across nodes.
func WithLocker(locker lockx.Locker, ttl time.Duration) Option {
	return func(o *option) {
		o.locker = locker
		o.lockTTL = ttl
	}
}

// WithRecoverOnStart releases ACQUIRED and BLOCKED states when the engine starts.
func WithRecoverOnStart(recover bool) Option {
	return func(o *option) {
		o.recoverOnStart = recover
	}
}

func WithNowFunc(f func() time.Time) Option {
	return func(o *option) {
		o.nowFunc = f
	}
}

type kind struct {
	job                Job
	disallowConcurrent bool
}

// Verify Engine satisfies the Signaler interface.
var _ Signaler = (*Engine)(nil)

// Engine fires persisted triggers on a bounded pool of goroutines.
type Engine struct {
	store Store
	option

	kindMu sync.RWMutex
	kinds  map[string]kind

	listenerMu sync.RWMutex
	listeners  []JobListener

	// key: fire instance id value: *ExecutionContext
	running cmap.ConcurrentMap
	signal  chan time.Time

	started int32
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	pool    *routine.Pool
}

func NewEngine(store Store, opts ...Option) *Engine {
	o := option{
		threadCount:      10,
		batchSize:        1,
		idleWait:         30 * time.Second,
		misfireThreshold: time.Minute,
		lockTTL:          30 * time.Second,
		recoverOnStart:   true,
		nowFunc:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.threadCount <= 0 {
		o.threadCount = 1
	}
	if o.batchSize <= 0 {
		o.batchSize = 1
	}
	if o.batchTimeWindow < 0 {
		o.batchTimeWindow = 0
	}
	return &Engine{
		store:   store,
		option:  o,
		kinds:   make(map[string]kind),
		running: cmap.New(),
		signal:  make(chan time.Time, 1),
	}
}

func (e *Engine) Store() Store {
	return e.store
}

// RegisterKind binds a kind name to its implementation.
func (e *Engine) RegisterKind(name string, job Job, disallowConcurrent bool) {
	e.kindMu.Lock()
	e.kinds[name] = kind{job: job, disallowConcurrent: disallowConcurrent}
	e.kindMu.Unlock()
}

func (e *Engine) kind(name string) (kind, bool) {
	e.kindMu.RLock()
	defer e.kindMu.RUnlock()
	k, ok := e.kinds[name]
	return k, ok
}

func (e *Engine) AddListener(l JobListener) {
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenerMu.Unlock()
}

func (e *Engine) now() time.Time {
	return e.nowFunc()
}

// Start starts the scheduling loop. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return ErrAlreadyStarted
	}
	if e.recoverOnStart {
		if err := e.store.RecoverState(ctx); err != nil {
			atomic.StoreInt32(&e.started, 0)
			return err
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	// 执行中的任务不随调度循环取消
	e.pool = routine.NewPool(ctx,
		routine.Limit(e.threadCount),
		routine.Recover(func(ctx context.Context, i interface{}) {
			logger.From(ctx).Error("recover",
				zap.Any("error", i),
				zap.ByteString("stack", debug.Stack()))
		}))
	go e.run(loopCtx, e.pool, e.done)
	logger.From(ctx).Info("scheduler engine started", zap.Int("thread_count", e.threadCount))
	return nil
}

// Shutdown stops the scheduling loop. With wait it blocks until running jobs return.
func (e *Engine) Shutdown(wait bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if atomic.LoadInt32(&e.started) == 0 {
		return ErrNotStarted
	}
	e.cancel()
	<-e.done
	if wait {
		e.pool.Wait()
	}
	atomic.StoreInt32(&e.started, 0)
	return nil
}

func (e *Engine) IsStarted() bool {
	return atomic.LoadInt32(&e.started) == 1
}

// SignalSchedulingChange wakes the scheduling loop. A zero candidate means unknown.
func (e *Engine) SignalSchedulingChange(candidate time.Time) {
	for {
		select {
		case e.signal <- candidate:
			return
		default:
		}
		select {
		case old := <-e.signal:
			if !old.IsZero() && (candidate.IsZero() || old.Before(candidate)) {
				candidate = old
			}
		default:
		}
	}
}

func (e *Engine) run(ctx context.Context, pool *routine.Pool, done chan struct{}) {
	defer close(done)
	for {
		available, err := pool.WaitAvailable(ctx)
		if err != nil {
			return
		}
		if available > e.batchSize {
			available = e.batchSize
		}
		now := e.now()
		triggers, err := e.acquire(ctx, AcquireOptions{
			Now:              now,
			NoLaterThan:      now.Add(e.idleWait),
			MaxCount:         available,
			MisfireThreshold: e.misfireThreshold,
			TimeWindow:       e.batchTimeWindow,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.From(ctx).Error("acquire triggers failed", zap.Error(err))
			if !e.idle(ctx, time.Second) {
				return
			}
			continue
		}
		if len(triggers) == 0 {
			if !e.idle(ctx, e.idleWait) {
				return
			}
			continue
		}
		if !e.waitFireTime(ctx, triggers) {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		e.fire(ctx, pool, triggers)
	}
}

func (e *Engine) acquire(ctx context.Context, opts AcquireOptions) ([]*Trigger, error) {
	if e.locker != nil {
		l, err := e.locker.Obtain(ctx, acquireLockKey, e.lockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := l.Release(ctx); err != nil {
				logger.From(ctx).Warn("release acquire lock failed", zap.Error(err))
			}
		}()
	}
	return e.store.AcquireNextTriggers(ctx, opts)
}

// idle waits for d or a scheduling signal. It returns false once ctx is done.
func (e *Engine) idle(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-e.signal:
	}
	return true
}

// waitFireTime sleeps until the first acquired trigger is due. An earlier
// candidate signaled meanwhile releases the batch so it can be acquired again.
func (e *Engine) waitFireTime(ctx context.Context, triggers []*Trigger) bool {
	first := triggers[0].NextFireTime
	for {
		d := first.Sub(e.now())
		if d <= time.Millisecond {
			return true
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.release(context.Background(), triggers)
			return false
		case <-timer.C:
			return true
		case candidate := <-e.signal:
			timer.Stop()
			if candidate.IsZero() || candidate.Before(first) {
				e.release(ctx, triggers)
				return false
			}
		}
	}
}

func (e *Engine) release(ctx context.Context, triggers []*Trigger) {
	for _, t := range triggers {
		if err := e.store.ReleaseAcquiredTrigger(ctx, t); err != nil {
			logger.From(ctx).Error("release trigger failed", zap.Stringer("trigger", t.Key), zap.Error(err))
		}
	}
}

func (e *Engine) fire(ctx context.Context, pool *routine.Pool, triggers []*Trigger) {
	toFire := make([]*Trigger, 0, len(triggers))
	for _, t := range triggers {
		if e.vetoed(ctx, t) {
			continue
		}
		toFire = append(toFire, t)
	}
	if len(toFire) == 0 {
		return
	}
	bundles, err := e.store.TriggersFired(ctx, toFire, e.now())
	if err != nil {
		logger.From(ctx).Error("triggers fired failed", zap.Error(err))
		e.release(ctx, toFire)
		return
	}
	for i, bundle := range bundles {
		if bundle == nil {
			continue
		}
		ec := &ExecutionContext{
			JobDetail:         bundle.Job,
			Trigger:           bundle.Trigger,
			FireInstanceID:    toFire[i].FireInstanceID,
			ScheduledFireTime: bundle.ScheduledFireTime,
			FireTime:          bundle.FireTime,
			PreviousFireTime:  bundle.PreviousFireTime,
			NextFireTime:      bundle.NextFireTime,
		}
		pool.Go(func(ctx context.Context) {
			e.runShell(ctx, ec)
		})
	}
}

// vetoed 获取后所在分组被暂停的触发器不执行
func (e *Engine) vetoed(ctx context.Context, t *Trigger) bool {
	state, err := e.store.TriggerState(ctx, t.Key)
	if err != nil || (state != StatePaused && state != StatePausedBlocked) {
		return false
	}
	job, err := e.store.RetrieveJob(ctx, t.JobKey)
	if err != nil {
		job = &JobDetail{Key: t.JobKey}
	}
	ec := &ExecutionContext{
		JobDetail:         job,
		Trigger:           t,
		FireInstanceID:    t.FireInstanceID,
		ScheduledFireTime: t.NextFireTime,
		FireTime:          e.now(),
		PreviousFireTime:  t.PreviousFireTime,
		NextFireTime:      t.NextFireTime,
	}
	logger.From(ctx).Info("job execution vetoed",
		zap.Stringer("job", t.JobKey), zap.Stringer("trigger", t.Key))
	e.notify(ctx, func(l JobListener) { l.JobExecutionVetoed(ctx, ec) })
	return true
}

func (e *Engine) runShell(ctx context.Context, ec *ExecutionContext) {
	log := logger.From(ctx).With(
		zap.Stringer("job", ec.JobDetail.Key),
		zap.Stringer("trigger", ec.Trigger.Key),
		zap.String("fire_instance_id", ec.FireInstanceID))
	ctx = logger.With(ctx, log)

	e.running.Set(ec.FireInstanceID, ec)
	defer e.running.Remove(ec.FireInstanceID)

	instruction := InstructionNoop
	var err error
	k, ok := e.kind(ec.JobDetail.Kind)
	if ok {
		ec.JobInstance = k.job
	}
	e.notify(ctx, func(l JobListener) { l.JobToBeExecuted(ctx, ec) })

	start := time.Now()
	if !ok {
		err = errors.Wrapf(ErrKindNotRegistered, "kind %q", ec.JobDetail.Kind)
	} else {
		err = e.execute(ctx, k.job, ec)
	}
	ec.JobRunTime = time.Since(start)
	if !ok || IsUnrecoverable(err) {
		instruction = InstructionSetTriggerError
	}
	if err != nil {
		log.Warn("job execution failed", zap.Error(err), zap.Duration("run_time", ec.JobRunTime))
	} else {
		log.Debug("job executed", zap.Duration("run_time", ec.JobRunTime))
	}
	e.notify(ctx, func(l JobListener) { l.JobWasExecuted(ctx, ec, err) })

	if cErr := e.store.TriggeredJobComplete(ctx, ec.Trigger, ec.JobDetail, instruction); cErr != nil {
		log.Error("triggered job complete failed", zap.Error(cErr))
	}
	if ec.JobDetail.DisallowConcurrent {
		// 解除阻塞的触发器可能已到期
		e.SignalSchedulingChange(time.Time{})
	}
}

func (e *Engine) execute(ctx context.Context, job Job, ec *ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.From(ctx).Error("job panic",
				zap.Any("error", r),
				zap.ByteString("stack", debug.Stack()))
			err = Unrecoverable(fmt.Errorf("panic: %v", r))
		}
	}()
	return job.Execute(ctx, ec)
}

func (e *Engine) notify(ctx context.Context, f func(JobListener)) {
	e.listenerMu.RLock()
	listeners := make([]JobListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.RUnlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.From(ctx).Error("listener panic",
						zap.String("listener", l.Name()),
						zap.Any("error", r),
						zap.ByteString("stack", debug.Stack()))
				}
			}()
			f(l)
		}()
	}
}

// CurrentlyExecuting returns a snapshot of the executions in flight.
func (e *Engine) CurrentlyExecuting() []*ExecutionContext {
	items := e.running.Items()
	list := make([]*ExecutionContext, 0, len(items))
	for _, v := range items {
		if ec, ok := v.(*ExecutionContext); ok {
			list = append(list, ec)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FireTime.Before(list[j].FireTime) })
	return list
}

// ScheduleJob stores job and trigger and returns the first fire time.
func (e *Engine) ScheduleJob(ctx context.Context, job *JobDetail, trigger *Trigger) (time.Time, error) {
	if trigger.JobKey != job.Key {
		return time.Time{}, errors.Errorf("trigger %s does not reference job %s", trigger.Key, job.Key)
	}
	if err := e.prepareTrigger(trigger); err != nil {
		return time.Time{}, err
	}
	if err := e.store.StoreJob(ctx, e.prepareJob(job), false); err != nil {
		return time.Time{}, errors.Wrapf(err, "store job %s", job.Key)
	}
	if err := e.store.StoreTrigger(ctx, trigger, false); err != nil {
		if _, rErr := e.store.RemoveJob(ctx, job.Key); rErr != nil {
			logger.From(ctx).Warn("remove job after failed trigger store", zap.Error(rErr))
		}
		return time.Time{}, errors.Wrapf(err, "store trigger %s", trigger.Key)
	}
	return trigger.NextFireTime, nil
}

// ScheduleTrigger adds a trigger to an existing job.
func (e *Engine) ScheduleTrigger(ctx context.Context, trigger *Trigger) (time.Time, error) {
	if err := e.prepareTrigger(trigger); err != nil {
		return time.Time{}, err
	}
	if err := e.store.StoreTrigger(ctx, trigger, false); err != nil {
		return time.Time{}, errors.Wrapf(err, "store trigger %s", trigger.Key)
	}
	return trigger.NextFireTime, nil
}

// AddJob stores a job without trigger. Only durable jobs may be added this way.
func (e *Engine) AddJob(ctx context.Context, job *JobDetail, replace bool) error {
	if !job.Durable {
		return errors.Errorf("job %s must be durable to be stored without trigger", job.Key)
	}
	return e.store.StoreJob(ctx, e.prepareJob(job), replace)
}

// RescheduleJob replaces the trigger under key. It returns the new first fire time.
func (e *Engine) RescheduleJob(ctx context.Context, key TriggerKey, trigger *Trigger) (time.Time, error) {
	old, err := e.store.RetrieveTrigger(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	trigger.JobKey = old.JobKey
	if err = e.prepareTrigger(trigger); err != nil {
		return time.Time{}, err
	}
	found, err := e.store.ReplaceTrigger(ctx, key, trigger)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, ErrTriggerNotFound
	}
	return trigger.NextFireTime, nil
}

func (e *Engine) UnscheduleJob(ctx context.Context, key TriggerKey) (bool, error) {
	return e.store.RemoveTrigger(ctx, key)
}

func (e *Engine) DeleteJob(ctx context.Context, key JobKey) (bool, error) {
	return e.store.RemoveJob(ctx, key)
}

func (e *Engine) CheckJobExists(ctx context.Context, key JobKey) (bool, error) {
	return e.store.CheckJobExists(ctx, key)
}

func (e *Engine) GetJobDetail(ctx context.Context, key JobKey) (*JobDetail, error) {
	return e.store.RetrieveJob(ctx, key)
}

func (e *Engine) GetTrigger(ctx context.Context, key TriggerKey) (*Trigger, error) {
	return e.store.RetrieveTrigger(ctx, key)
}

func (e *Engine) GetTriggersOfJob(ctx context.Context, key JobKey) ([]*Trigger, error) {
	return e.store.TriggersOfJob(ctx, key)
}

func (e *Engine) GetTriggerState(ctx context.Context, key TriggerKey) (TriggerState, error) {
	return e.store.TriggerState(ctx, key)
}

func (e *Engine) GetJobGroupNames(ctx context.Context) ([]string, error) {
	return e.store.JobGroupNames(ctx)
}

func (e *Engine) GetJobKeys(ctx context.Context, group string) ([]JobKey, error) {
	return e.store.JobKeys(ctx, group)
}

func (e *Engine) GetTriggerGroupNames(ctx context.Context) ([]string, error) {
	return e.store.TriggerGroupNames(ctx)
}

func (e *Engine) GetTriggerKeys(ctx context.Context, group string) ([]TriggerKey, error) {
	return e.store.TriggerKeys(ctx, group)
}

func (e *Engine) PauseTrigger(ctx context.Context, key TriggerKey) error {
	return e.store.PauseTrigger(ctx, key)
}

func (e *Engine) ResumeTrigger(ctx context.Context, key TriggerKey) error {
	return e.store.ResumeTrigger(ctx, key)
}

// PauseJob pauses every trigger of the job.
func (e *Engine) PauseJob(ctx context.Context, key JobKey) error {
	triggers, err := e.store.TriggersOfJob(ctx, key)
	if err != nil {
		return err
	}
	for _, t := range triggers {
		if err = e.store.PauseTrigger(ctx, t.Key); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) PauseTriggerGroup(ctx context.Context, group string) error {
	return e.store.PauseTriggerGroup(ctx, group)
}

func (e *Engine) ResumeTriggerGroup(ctx context.Context, group string) error {
	return e.store.ResumeTriggerGroup(ctx, group)
}

func (e *Engine) GetPausedTriggerGroups(ctx context.Context) ([]string, error) {
	return e.store.PausedTriggerGroups(ctx)
}

func (e *Engine) Clear(ctx context.Context) error {
	return e.store.ClearAll(ctx)
}

func (e *Engine) prepareJob(job *JobDetail) *JobDetail {
	j := job.Clone()
	if k, ok := e.kind(j.Kind); ok {
		j.DisallowConcurrent = k.disallowConcurrent
	}
	return j
}

func (e *Engine) prepareTrigger(trigger *Trigger) error {
	if trigger.StartTime.IsZero() {
		trigger.StartTime = e.now()
	}
	if trigger.Priority == 0 {
		trigger.Priority = DefaultPriority
	}
	if err := trigger.Validate(); err != nil {
		return err
	}
	if trigger.ComputeFirstFireTime().IsZero() {
		return errors.Wrapf(ErrWillNeverFire, "trigger %s", trigger.Key)
	}
	return nil
}
