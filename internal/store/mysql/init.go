package mysql

import (
	"context"

	"gorm.io/gorm"

	"jobscheduler/internal/store"
	"jobscheduler/pkg/storage"
)

// NewFactory returns a store.Factory whose stores join the transaction carried by ctx.
func NewFactory(db *gorm.DB) store.Factory {
	return &dataStore{db: db}
}

type dataStore struct {
	db *gorm.DB
}

func (d *dataStore) conn(ctx context.Context) *gorm.DB {
	return storage.Conn(ctx, d.db)
}

func (d *dataStore) JobDescriptors() store.JobDescriptorStore {
	return &jobDescriptor{dataStore: d}
}

func (d *dataStore) JobParameters() store.JobParameterStore {
	return &jobParameter{dataStore: d}
}

func (d *dataStore) JobLogs() store.JobLogStore {
	return &jobLog{dataStore: d}
}
