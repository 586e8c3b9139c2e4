package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"jobscheduler/pkg/job"
)

func testExecutionContext() *job.ExecutionContext {
	id := JobIdentifier{JobID: 10, TenantID: 3, JobName: "j"}
	detail := nativeJob(id, false)
	return &job.ExecutionContext{
		JobDetail:      detail,
		Trigger:        job.NewOnceTrigger(job.NewTriggerKey(Group(3), "t"), detail.Key, time.Now()),
		FireInstanceID: "fid",
		FireTime:       time.Now(),
	}
}

type funcListener struct {
	name     string
	executed func(ctx context.Context, jc map[string]interface{}, err error)
}

func (f *funcListener) Name() string { return f.name }

func (f *funcListener) JobToBeExecuted(context.Context, map[string]interface{}) {}

func (f *funcListener) JobExecutionVetoed(context.Context, map[string]interface{}) {}

func (f *funcListener) JobWasExecuted(ctx context.Context, jc map[string]interface{}, err error) {
	f.executed(ctx, jc, err)
}

func TestChainIsolatesListeners(t *testing.T) {
	var (
		mu      sync.Mutex
		tenants []int64
		seen    []map[string]interface{}
	)
	record := func(ctx context.Context, jc map[string]interface{}, _ error) {
		tenantID, ok := TenantFrom(ctx)
		require.True(t, ok)
		mu.Lock()
		tenants = append(tenants, tenantID)
		seen = append(seen, jc)
		mu.Unlock()
		jc[ContextJobName] = "changed"
	}
	chain := NewChain(
		&funcListener{name: "first", executed: record},
		&funcListener{name: "panic", executed: func(context.Context, map[string]interface{}, error) {
			panic("listener")
		}},
	)
	chain.Add(&funcListener{name: "last", executed: record})

	chain.JobWasExecuted(context.Background(), testExecutionContext(), nil)
	require.Len(t, seen, 2)
	assert.Equal(t, []int64{3, 3}, tenants)
	assert.Equal(t, "j", seen[1][ContextJobName], "every listener gets its own copy")
	assert.Equal(t, uint64(10), seen[1][ContextJobID])
	assert.Equal(t, "t", seen[1][ContextTriggerName])
	_, ok := seen[1][ContextNextFireTime]
	assert.False(t, ok)
}

func TestFlatten(t *testing.T) {
	ec := testExecutionContext()
	ec.NextFireTime = ec.FireTime.Add(time.Minute)
	ec.RefireCount = 2
	jc := flatten(ec)
	assert.Equal(t, int64(3), jc[ContextTenantID])
	assert.Equal(t, Group(3), jc[ContextJobGroup])
	assert.Equal(t, KindConcurrent, jc[ContextJobType])
	assert.Equal(t, ec.NextFireTime, jc[ContextNextFireTime])
	assert.Equal(t, 2, jc[ContextRefireCount])
	assert.Equal(t, "fid", jc[ContextFireInstanceID])
	_, ok := jc[ContextPreviousFireTime]
	assert.False(t, ok)

	data := jc[ContextJobData].(map[string]string)
	data[dataJobName] = "changed"
	assert.Equal(t, "j", ec.JobDetail.Data[dataJobName])
}

func TestTraceListener(t *testing.T) {
	testList := []struct {
		name   string
		level  zapcore.Level
		expect []string
	}{
		{name: "debug", level: zapcore.DebugLevel, expect: []string{
			"job to be executed", "job execution vetoed", "job was executed", "job was executed with error"}},
		{name: "info", level: zapcore.InfoLevel, expect: []string{
			"job execution vetoed", "job was executed", "job was executed with error"}},
		{name: "error", level: zapcore.ErrorLevel},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			core, logs := observer.New(data.level)
			l := NewTraceListener(zap.New(core))
			jc := flatten(testExecutionContext())
			ctx := context.Background()
			l.JobToBeExecuted(ctx, jc)
			l.JobExecutionVetoed(ctx, jc)
			l.JobWasExecuted(ctx, jc, nil)
			l.JobWasExecuted(ctx, jc, errors.New("boom"))

			var got []string
			for _, entry := range logs.All() {
				got = append(got, entry.Message)
			}
			assert.Equal(t, data.expect, got)
		})
	}
}

func TestMetricsListener(t *testing.T) {
	registry := prometheus.NewRegistry()
	l := NewMetricsListener(registry).(*metricsListener)
	ctx := context.Background()
	jc := flatten(testExecutionContext())

	l.JobToBeExecuted(ctx, jc)
	l.JobToBeExecuted(ctx, jc)
	assert.Equal(t, float64(2), testutil.ToFloat64(l.metrics(3).running))
	l.JobWasExecuted(ctx, jc, nil)
	l.JobWasExecuted(ctx, jc, errors.New("boom"))
	assert.Equal(t, float64(0), testutil.ToFloat64(l.metrics(3).running))
	assert.Equal(t, float64(2), testutil.ToFloat64(l.metrics(3).executed))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics(3).failed))

	// 没有租户信息时忽略
	l.JobToBeExecuted(ctx, map[string]interface{}{})
	assert.Len(t, l.tenants, 1)

	// 同一注册表上的第二个监听器复用已注册的采集器
	other := NewMetricsListener(registry).(*metricsListener)
	other.JobWasExecuted(ctx, jc, nil)
	assert.Equal(t, float64(3), testutil.ToFloat64(l.metrics(3).executed))
}

func TestMetricsListenerConcurrentFirstUse(t *testing.T) {
	l := NewMetricsListener(prometheus.NewRegistry()).(*metricsListener)
	jc := flatten(testExecutionContext())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.JobToBeExecuted(context.Background(), jc)
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(20), testutil.ToFloat64(l.metrics(3).running))
}
