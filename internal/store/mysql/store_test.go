package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobscheduler/internal/model"
	"jobscheduler/internal/store"
	"jobscheduler/pkg/code"
	"jobscheduler/pkg/storage/storagetest"
)

func newFactory(t *testing.T) store.Factory {
	db := storagetest.NewDB(t, model.Models()...)
	return NewFactory(db.DB)
}

func TestJobDescriptor(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	for _, d := range []*model.JobDescriptor{
		{TenantID: 1, JobName: "b", JobType: "t"},
		{TenantID: 1, JobName: "a", JobType: "t"},
		{TenantID: 2, JobName: "a", JobType: "t"},
	} {
		require.NoError(t, f.JobDescriptors().Create(ctx, d))
		assert.NotZero(t, d.ID)
	}
	assert.Error(t, f.JobDescriptors().Create(ctx, &model.JobDescriptor{TenantID: 1, JobName: "a", JobType: "t"}),
		"job name is unique per tenant")

	got, err := f.JobDescriptors().GetByName(ctx, 2, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TenantID)
	_, err = f.JobDescriptors().Get(ctx, 1, got.ID)
	assert.True(t, errors.Is(err, code.ErrJobNotFound))

	list, err := f.JobDescriptors().List(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].JobName)
	all, err := f.JobDescriptors().List(ctx, 0, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.True(t, errors.Is(f.JobDescriptors().Delete(ctx, 1, got.ID), code.ErrJobNotFound),
		"descriptor of another tenant")
	require.NoError(t, f.JobDescriptors().Delete(ctx, 2, got.ID))
	assert.True(t, errors.Is(f.JobDescriptors().Delete(ctx, 2, got.ID), code.ErrJobNotFound))

	require.NoError(t, f.JobDescriptors().DeleteByTenant(ctx, 1))
	all, err = f.JobDescriptors().List(ctx, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJobParameter(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	require.NoError(t, f.JobParameters().Set(ctx, 1, 10, map[string]interface{}{
		"name":  "value",
		"count": 3,
		"flags": []string{"a"},
	}))
	list, err := f.JobParameters().List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "count", list[0].Key)
	assert.Equal(t, "number", list[0].ValueType)
	assert.Equal(t, "array", list[1].ValueType)
	value, err := list[2].Decode()
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	// 整体替换
	require.NoError(t, f.JobParameters().Set(ctx, 1, 10, map[string]interface{}{"other": true}))
	list, err = f.JobParameters().List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bool", list[0].ValueType)

	require.NoError(t, f.JobParameters().DeleteByJob(ctx, 1, 10))
	list, err = f.JobParameters().List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestJobLogRecord(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.JobLogs().Record(ctx, 1, 10, errors.New("first"), "stack", first))
	require.NoError(t, f.JobLogs().Record(ctx, 1, 10, errors.New("second"), "stack", first.Add(time.Hour)))

	logs, err := f.JobLogs().List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "second", logs[0].ExceptionMessage)
	assert.Equal(t, 1, logs[0].RetryNumber)

	require.NoError(t, f.JobLogs().Record(ctx, 1, 11, errors.New("old"), "", first.Add(-time.Hour)))
	n, err := f.JobLogs().DeleteBefore(ctx, 1, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, f.JobLogs().DeleteByJob(ctx, 1, 10))
	logs, err = f.JobLogs().List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
