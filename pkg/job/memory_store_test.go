package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeJob(t *testing.T, s Store, key JobKey, disallowConcurrent bool) *JobDetail {
	t.Helper()
	j := &JobDetail{Key: key, Kind: "test", DisallowConcurrent: disallowConcurrent}
	require.NoError(t, s.StoreJob(context.Background(), j, false))
	return j
}

func storeTrigger(t *testing.T, s Store, tr *Trigger) {
	t.Helper()
	tr.ComputeFirstFireTime()
	require.NoError(t, s.StoreTrigger(context.Background(), tr, false))
}

// countCatchUpFires acquires and fires everything due at now until nothing is left.
func countCatchUpFires(t *testing.T, s Store, now time.Time) int {
	ctx := context.Background()
	fires := 0
	for i := 0; i < 10; i++ {
		acquired, err := s.AcquireNextTriggers(ctx, AcquireOptions{
			Now: now, NoLaterThan: now, MaxCount: 10, MisfireThreshold: time.Minute,
		})
		require.NoError(t, err)
		if len(acquired) == 0 {
			return fires
		}
		bundles, err := s.TriggersFired(ctx, acquired, now)
		require.NoError(t, err)
		for _, b := range bundles {
			require.NotNil(t, b)
			fires++
			require.NoError(t, s.TriggeredJobComplete(ctx, b.Trigger, b.Job, InstructionNoop))
		}
	}
	return fires
}

func TestMemoryStoreMisfirePolicies(t *testing.T) {
	missed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := missed.Add(5*time.Minute + 10*time.Second)
	testList := []struct {
		name        string
		instruction MisfireInstruction
		fires       int
	}{
		{name: "none", instruction: MisfireDoNothing, fires: 0},
		{name: "all", instruction: MisfireSkipToNow, fires: 0},
		{name: "one", instruction: MisfireFireNow, fires: 1},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			s := NewMemoryStore()
			storeJob(t, s, testJobKey, false)
			tr := NewCronTrigger(testTriggerKey, testJobKey, "0 * * * * ?", missed)
			tr.MisfireInstruction = data.instruction
			storeTrigger(t, s, tr)

			assert.Equal(t, data.fires, countCatchUpFires(t, s, now))
			stored, err := s.RetrieveTrigger(context.Background(), testTriggerKey)
			require.NoError(t, err)
			assert.Equal(t, missed.Add(6*time.Minute), stored.NextFireTime)
			assert.Equal(t, StateNormal, stored.State)
		})
	}
}

func TestMemoryStoreOnceTriggerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	storeJob(t, s, testJobKey, false)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storeTrigger(t, s, NewOnceTrigger(testTriggerKey, testJobKey, at))

	acquired, err := s.AcquireNextTriggers(ctx, AcquireOptions{
		Now: at, NoLaterThan: at, MaxCount: 1, MisfireThreshold: time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, acquired, 1)
	state, err := s.TriggerState(ctx, testTriggerKey)
	require.NoError(t, err)
	assert.Equal(t, StateAcquired, state)

	bundles, err := s.TriggersFired(ctx, acquired, at)
	require.NoError(t, err)
	require.NotNil(t, bundles[0])
	assert.Equal(t, at, bundles[0].ScheduledFireTime)
	assert.True(t, bundles[0].NextFireTime.IsZero())
	assert.Equal(t, StateComplete, bundles[0].Trigger.State)

	require.NoError(t, s.TriggeredJobComplete(ctx, bundles[0].Trigger, bundles[0].Job, InstructionNoop))
	_, err = s.RetrieveTrigger(ctx, testTriggerKey)
	assert.ErrorIs(t, err, ErrTriggerNotFound)
	exists, err := s.CheckJobExists(ctx, testJobKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreReplacedWhileExecuting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	storeJob(t, s, testJobKey, false)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storeTrigger(t, s, NewOnceTrigger(testTriggerKey, testJobKey, at))

	acquired, err := s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at, MaxCount: 1})
	require.NoError(t, err)
	bundles, err := s.TriggersFired(ctx, acquired, at)
	require.NoError(t, err)

	again := NewOnceTrigger(testTriggerKey, testJobKey, at.Add(5*time.Second))
	again.ComputeFirstFireTime()
	found, err := s.ReplaceTrigger(ctx, testTriggerKey, again)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, s.TriggeredJobComplete(ctx, bundles[0].Trigger, bundles[0].Job, InstructionNoop))
	stored, err := s.RetrieveTrigger(ctx, testTriggerKey)
	require.NoError(t, err)
	assert.Equal(t, at.Add(5*time.Second), stored.NextFireTime)
	assert.Equal(t, StateNormal, stored.State)
}

func TestMemoryStoreDisallowConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	storeJob(t, s, testJobKey, true)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storeTrigger(t, s, NewCronTrigger(NewTriggerKey("1", "a"), testJobKey, "* * * * * ?", at))
	storeTrigger(t, s, NewCronTrigger(NewTriggerKey("1", "b"), testJobKey, "* * * * * ?", at))

	acquired, err := s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at, MaxCount: 10})
	require.NoError(t, err)
	require.Len(t, acquired, 1, "one trigger per non concurrent job")

	bundles, err := s.TriggersFired(ctx, acquired, at)
	require.NoError(t, err)
	require.NotNil(t, bundles[0])

	triggers, err := s.TriggersOfJob(ctx, testJobKey)
	require.NoError(t, err)
	for _, tr := range triggers {
		assert.Equal(t, StateBlocked, tr.State, tr.Key.String())
	}
	acquired, err = s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at.Add(time.Minute), MaxCount: 10})
	require.NoError(t, err)
	assert.Empty(t, acquired)

	// 阻塞期间新增的触发器同样被阻塞
	storeTrigger(t, s, NewOnceTrigger(NewTriggerKey("1", "c"), testJobKey, at))
	state, err := s.TriggerState(ctx, NewTriggerKey("1", "c"))
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, state)

	require.NoError(t, s.TriggeredJobComplete(ctx, bundles[0].Trigger, bundles[0].Job, InstructionNoop))
	triggers, err = s.TriggersOfJob(ctx, testJobKey)
	require.NoError(t, err)
	for _, tr := range triggers {
		assert.Equal(t, StateNormal, tr.State, tr.Key.String())
	}
}

func TestMemoryStorePauseResume(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, group := range []string{"1", "2"} {
		key := NewJobKey(group, "job")
		storeJob(t, s, key, false)
		storeTrigger(t, s, NewCronTrigger(NewTriggerKey(group, "job"), key, "* * * * * ?", at))
	}

	require.NoError(t, s.PauseTriggerGroup(ctx, "1"))
	groups, err := s.PausedTriggerGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, groups)

	acquired, err := s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at, MaxCount: 10})
	require.NoError(t, err)
	require.Len(t, acquired, 1)
	assert.Equal(t, "2", acquired[0].Key.Group)
	require.NoError(t, s.ReleaseAcquiredTrigger(ctx, acquired[0]))

	// 暂停分组中新增的触发器为暂停状态
	key := NewJobKey("1", "other")
	storeJob(t, s, key, false)
	storeTrigger(t, s, NewOnceTrigger(NewTriggerKey("1", "other"), key, at))
	state, err := s.TriggerState(ctx, NewTriggerKey("1", "other"))
	require.NoError(t, err)
	assert.Equal(t, StatePaused, state)

	require.NoError(t, s.ResumeTriggerGroup(ctx, "1"))
	state, err = s.TriggerState(ctx, NewTriggerKey("1", "job"))
	require.NoError(t, err)
	assert.Equal(t, StateNormal, state)
}

func TestMemoryStoreErrorStateNeedsPauseResume(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	storeJob(t, s, testJobKey, false)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storeTrigger(t, s, NewCronTrigger(testTriggerKey, testJobKey, "* * * * * ?", at))

	acquired, err := s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at, MaxCount: 1})
	require.NoError(t, err)
	bundles, err := s.TriggersFired(ctx, acquired, at)
	require.NoError(t, err)
	require.NoError(t, s.TriggeredJobComplete(ctx, bundles[0].Trigger, bundles[0].Job, InstructionSetTriggerError))

	state, err := s.TriggerState(ctx, testTriggerKey)
	require.NoError(t, err)
	assert.Equal(t, StateError, state)
	acquired, err = s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at.Add(time.Minute), MaxCount: 1})
	require.NoError(t, err)
	assert.Empty(t, acquired)

	require.NoError(t, s.PauseTrigger(ctx, testTriggerKey))
	require.NoError(t, s.ResumeTrigger(ctx, testTriggerKey))
	state, err = s.TriggerState(ctx, testTriggerKey)
	require.NoError(t, err)
	assert.Equal(t, StateNormal, state)
}

func TestMemoryStoreRecoverState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	storeJob(t, s, testJobKey, false)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storeTrigger(t, s, NewCronTrigger(testTriggerKey, testJobKey, "* * * * * ?", at))
	_, err := s.AcquireNextTriggers(ctx, AcquireOptions{Now: at, NoLaterThan: at, MaxCount: 1})
	require.NoError(t, err)

	require.NoError(t, s.RecoverState(ctx))
	state, err := s.TriggerState(ctx, testTriggerKey)
	require.NoError(t, err)
	assert.Equal(t, StateNormal, state)
}

func TestMemoryStoreBatchTimeWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testList := []struct {
		name   string
		window time.Duration
		expect []string
	}{
		{name: "no window", expect: []string{"a"}},
		{name: "window covers b", window: 3 * time.Second, expect: []string{"a", "b"}},
		{name: "window covers all", window: 10 * time.Second, expect: []string{"a", "b", "c"}},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			s := NewMemoryStore()
			for name, d := range map[string]time.Duration{"a": time.Second, "b": 3 * time.Second, "c": 8 * time.Second} {
				key := NewJobKey("1", name)
				storeJob(t, s, key, false)
				storeTrigger(t, s, NewOnceTrigger(NewTriggerKey("1", name), key, now.Add(d)))
			}
			acquired, err := s.AcquireNextTriggers(context.Background(), AcquireOptions{
				Now: now, NoLaterThan: now.Add(30 * time.Second), MaxCount: 4,
				MisfireThreshold: time.Minute, TimeWindow: data.window,
			})
			require.NoError(t, err)
			var names []string
			for _, tr := range acquired {
				names = append(names, tr.Key.Name)
			}
			assert.Equal(t, data.expect, names)
		})
	}
}
