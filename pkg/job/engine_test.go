package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobscheduler/pkg/routine"
)

type recordListener struct {
	mu       sync.Mutex
	toBe     int
	vetoed   int
	executed []error
	done     chan struct{}
}

func newRecordListener() *recordListener {
	return &recordListener{done: make(chan struct{}, 100)}
}

func (r *recordListener) Name() string { return "record" }

func (r *recordListener) JobToBeExecuted(context.Context, *ExecutionContext) {
	r.mu.Lock()
	r.toBe++
	r.mu.Unlock()
}

func (r *recordListener) JobExecutionVetoed(context.Context, *ExecutionContext) {
	r.mu.Lock()
	r.vetoed++
	r.mu.Unlock()
}

func (r *recordListener) JobWasExecuted(_ context.Context, _ *ExecutionContext, err error) {
	r.mu.Lock()
	r.executed = append(r.executed, err)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recordListener) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("waited for %d executions, got %d", n, i)
		}
	}
}

type panicListener struct{}

func (panicListener) Name() string { return "panic" }

func (panicListener) JobToBeExecuted(context.Context, *ExecutionContext) { panic("listener") }

func (panicListener) JobExecutionVetoed(context.Context, *ExecutionContext) {}

func (panicListener) JobWasExecuted(context.Context, *ExecutionContext, error) { panic("listener") }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *recordListener) {
	e := NewEngine(NewMemoryStore(), append([]Option{
		WithIdleWait(100 * time.Millisecond),
		WithThreadCount(4),
		WithBatchSize(4),
	}, opts...)...)
	l := newRecordListener()
	e.AddListener(panicListener{})
	e.AddListener(l)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		_ = e.Shutdown(true)
	})
	return e, l
}

func TestEngineStartTwice(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.True(t, e.IsStarted())
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
}

func TestEngineFiresOnceTrigger(t *testing.T) {
	e, l := newTestEngine(t)
	var runs int32
	e.RegisterKind("count", JobFunc(func(ctx context.Context, ec *ExecutionContext) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}), false)

	ctx := context.Background()
	detail := &JobDetail{Key: testJobKey, Kind: "count"}
	first, err := e.ScheduleJob(ctx, detail,
		NewOnceTrigger(testTriggerKey, testJobKey, time.Now().Add(50*time.Millisecond)))
	require.NoError(t, err)
	assert.False(t, first.IsZero())

	l.wait(t, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Eventually(t, func() bool {
		exists, err := e.CheckJobExists(ctx, testJobKey)
		return err == nil && !exists
	}, time.Second, 10*time.Millisecond)
}

func TestEngineSignalWakesLoop(t *testing.T) {
	e, l := newTestEngine(t, WithIdleWait(10*time.Second))
	e.RegisterKind("noop", JobFunc(func(context.Context, *ExecutionContext) error { return nil }), false)
	// 确保调度循环已进入空闲等待
	time.Sleep(50 * time.Millisecond)

	at := time.Now().Add(50 * time.Millisecond)
	_, err := e.ScheduleJob(context.Background(), &JobDetail{Key: testJobKey, Kind: "noop"},
		NewOnceTrigger(testTriggerKey, testJobKey, at))
	require.NoError(t, err)
	e.SignalSchedulingChange(at)

	l.wait(t, 1)
}

func TestEngineErrorStates(t *testing.T) {
	testList := []struct {
		name      string
		kind      string
		expectErr error
	}{
		{name: "panic", kind: "panic"},
		{name: "unregistered", kind: "missing", expectErr: ErrKindNotRegistered},
		{name: "unrecoverable", kind: "unrecoverable"},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			e, l := newTestEngine(t)
			e.RegisterKind("panic", JobFunc(func(context.Context, *ExecutionContext) error {
				panic("boom")
			}), false)
			e.RegisterKind("unrecoverable", JobFunc(func(context.Context, *ExecutionContext) error {
				return Unrecoverable(errors.New("broken"))
			}), false)

			ctx := context.Background()
			_, err := e.ScheduleJob(ctx, &JobDetail{Key: testJobKey, Kind: data.kind},
				NewCronTrigger(testTriggerKey, testJobKey, "* * * * * ?", time.Now()))
			require.NoError(t, err)

			l.wait(t, 1)
			l.mu.Lock()
			got := l.executed[0]
			l.mu.Unlock()
			require.Error(t, got)
			assert.True(t, IsUnrecoverable(got) || errors.Is(got, ErrKindNotRegistered))
			if data.expectErr != nil {
				assert.ErrorIs(t, got, data.expectErr)
			}
			assert.Eventually(t, func() bool {
				state, err := e.GetTriggerState(ctx, testTriggerKey)
				return err == nil && state == StateError
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestEngineDisallowConcurrent(t *testing.T) {
	e, l := newTestEngine(t)
	var (
		current int32
		maxSeen int32
	)
	e.RegisterKind("exclusive", JobFunc(func(context.Context, *ExecutionContext) error {
		n := atomic.AddInt32(&current, 1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil
	}), true)

	ctx := context.Background()
	at := time.Now().Add(50 * time.Millisecond)
	_, err := e.ScheduleJob(ctx, &JobDetail{Key: testJobKey, Kind: "exclusive", Durable: true},
		NewOnceTrigger(NewTriggerKey("1", "a"), testJobKey, at))
	require.NoError(t, err)
	for _, name := range []string{"b", "c"} {
		_, err = e.ScheduleTrigger(ctx, NewOnceTrigger(NewTriggerKey("1", name), testJobKey, at))
		require.NoError(t, err)
	}

	l.wait(t, 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

func TestEngineVetoPausedGroup(t *testing.T) {
	s := NewMemoryStore()
	e := NewEngine(s)
	l := newRecordListener()
	e.AddListener(l)
	ctx := context.Background()

	at := time.Now()
	_, err := e.ScheduleJob(ctx, &JobDetail{Key: testJobKey, Kind: "noop"},
		NewOnceTrigger(testTriggerKey, testJobKey, at))
	require.NoError(t, err)
	acquired, err := s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at, MaxCount: 1})
	require.NoError(t, err)
	require.Len(t, acquired, 1)

	require.NoError(t, e.PauseTriggerGroup(ctx, testTriggerKey.Group))
	pool := routine.NewPool(ctx)
	e.fire(ctx, pool, acquired)
	pool.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, 1, l.vetoed)
	assert.Equal(t, 0, l.toBe)
}

func TestEngineRescheduleJob(t *testing.T) {
	e := NewEngine(NewMemoryStore())
	ctx := context.Background()
	start := time.Now().Add(time.Hour)
	_, err := e.ScheduleJob(ctx, &JobDetail{Key: testJobKey, Kind: "noop"},
		NewOnceTrigger(testTriggerKey, testJobKey, start))
	require.NoError(t, err)

	next, err := e.RescheduleJob(ctx, testTriggerKey, NewOnceTrigger(testTriggerKey, JobKey{}, start.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), next)

	_, err = e.RescheduleJob(ctx, NewTriggerKey("1", "missing"), NewOnceTrigger(testTriggerKey, JobKey{}, start))
	assert.ErrorIs(t, err, ErrTriggerNotFound)

	_, err = e.ScheduleTrigger(ctx, NewCronTrigger(NewTriggerKey("1", "never"), testJobKey, "* * * * * ?", start).
		withEnd(start.Add(-time.Second)))
	assert.Error(t, err)
}

func (t *Trigger) withEnd(end time.Time) *Trigger {
	t.EndTime = end
	return t
}

func TestEngineBatchKeepsFireTimes(t *testing.T) {
	e, l := newTestEngine(t, WithIdleWait(10*time.Second))
	var (
		mu    sync.Mutex
		fired = make(map[string]time.Time)
	)
	e.RegisterKind("record", JobFunc(func(_ context.Context, ec *ExecutionContext) error {
		mu.Lock()
		fired[ec.Trigger.Key.Name] = time.Now()
		mu.Unlock()
		return nil
	}), false)

	ctx := context.Background()
	start := time.Now()
	due := map[string]time.Time{
		"a": start.Add(200 * time.Millisecond),
		"b": start.Add(1500 * time.Millisecond),
	}
	for name, at := range due {
		key := NewJobKey("1", name)
		_, err := e.ScheduleJob(ctx, &JobDetail{Key: key, Kind: "record"}, NewOnceTrigger(NewTriggerKey("1", name), key, at))
		require.NoError(t, err)
	}
	e.SignalSchedulingChange(due["a"])

	l.wait(t, 2)
	mu.Lock()
	defer mu.Unlock()
	for name, at := range due {
		require.Contains(t, fired, name)
		assert.False(t, fired[name].Before(at.Add(-10*time.Millisecond)),
			"%s fired at +%s, due at +%s", name, fired[name].Sub(start), at.Sub(start))
	}
}
