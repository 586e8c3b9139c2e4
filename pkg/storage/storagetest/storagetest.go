// Package storagetest opens throwaway sqlite databases for tests.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"jobscheduler/pkg/storage"
)

// NewDB returns an in-memory database private to t with models migrated.
func NewDB(t testing.TB, models ...interface{}) *storage.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	// 单连接避免sqlite共享缓存的表锁
	db, err := storage.Open(context.Background(), sqlite.Open(dsn),
		storage.WithMaxOpenConn(1), storage.WithMaxIdleConn(1))
	require.NoError(t, err)
	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...))
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
