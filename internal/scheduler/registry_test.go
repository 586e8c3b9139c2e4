package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobscheduler/pkg/code"
	"jobscheduler/pkg/job"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func() Job { return JobFunc(func(context.Context) error { return nil }) }
	require.NoError(t, r.Register("b", factory))
	require.NoError(t, r.Register("a", factory))
	assert.Error(t, r.Register("a", factory))
	assert.Error(t, r.Register("", factory))
	assert.Error(t, r.Register("c", nil))
	assert.Panics(t, func() { r.MustRegister("a", factory) })

	f, ok := r.Lookup("a")
	require.True(t, ok)
	assert.NoError(t, f().Execute(context.Background()))
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, r.Types())
}

func TestErrors(t *testing.T) {
	cause := errors.New("busy")
	assert.Nil(t, Retryable(nil))
	retryable := Retryable(cause)
	assert.True(t, IsRetryable(retryable))
	assert.True(t, errors.Is(retryable, cause))
	assert.False(t, IsRetryable(cause))

	execErr := &JobExecutionError{Identifier: JobIdentifier{JobID: 1, TenantID: 2, JobName: "j"}, Err: cause}
	assert.Equal(t, "job j(1) of tenant 2 failed: busy", execErr.Error())
	assert.True(t, errors.Is(execErr, cause))

	testList := []struct {
		name   string
		err    error
		expect code.ErrorCode
	}{
		{name: "job", err: job.ErrJobNotFound, expect: code.ErrJobNotFound},
		{name: "trigger", err: job.ErrTriggerNotFound, expect: code.ErrTriggerNotFound},
		{name: "started", err: job.ErrAlreadyStarted, expect: code.ErrAlreadyStarted},
		{name: "not started", err: job.ErrNotStarted, expect: code.ErrSchedulerNotStarted},
		{name: "other", err: cause, expect: code.ErrScheduler},
		{name: "coded", err: code.ErrTenantRequired, expect: code.ErrTenantRequired},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			err := wrap(data.err, "op %d", 1)
			assert.True(t, errors.Is(err, data.expect))
			assert.True(t, errors.Is(err, data.err))
			var ec code.ErrorCode
			require.True(t, errors.As(err, &ec))
			assert.Equal(t, data.expect.Code(), ec.Code())
		})
	}
	assert.Nil(t, wrap(nil, "op"))
}

func TestTenant(t *testing.T) {
	_, ok := TenantFrom(context.Background())
	assert.False(t, ok)
	_, err := mustTenant(context.Background())
	assert.True(t, errors.Is(err, code.ErrTenantRequired))

	tenantID, err := mustTenant(WithTenant(context.Background(), 9))
	require.NoError(t, err)
	assert.Equal(t, int64(9), tenantID)

	got, err := tenantOf(Group(9))
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)
	_, err = tenantOf("x")
	assert.Error(t, err)
}

func TestTriggerNative(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	key := job.NewTriggerKey("1", "t")
	jobKey := job.NewJobKey("1", "j")

	once := (&OneShotTrigger{StartDate: start, Priority: 7}).native(key, jobKey)
	assert.Equal(t, job.ScheduleOnce, once.Type)
	assert.Equal(t, start, once.StartTime)
	assert.Equal(t, 7, once.Priority)

	testList := []struct {
		policy MisfirePolicy
		expect job.MisfireInstruction
	}{
		{policy: MisfireNone, expect: job.MisfireDoNothing},
		{policy: MisfireAll, expect: job.MisfireSkipToNow},
		{policy: MisfireOne, expect: job.MisfireFireNow},
	}
	for _, data := range testList {
		t.Run(data.policy.String(), func(t *testing.T) {
			cron := (&CronTrigger{StartDate: start, Expression: "*/5 * * * * ?", EndDate: start.Add(time.Hour),
				MisfirePolicy: data.policy, TimeZone: "UTC"}).native(key, jobKey)
			assert.Equal(t, job.ScheduleCron, cron.Type)
			assert.Equal(t, data.expect, cron.MisfireInstruction)
			assert.Equal(t, start.Add(time.Hour), cron.EndTime)
			assert.Equal(t, "UTC", cron.TimeZone)
			assert.NoError(t, cron.Validate())
		})
	}
	assert.Equal(t, "MisfirePolicy(9)", MisfirePolicy(9).String())
}
