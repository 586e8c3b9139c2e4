package storage

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"jobscheduler/pkg/logger"
)

var (
	ErrNoTransaction         = errors.New("no active transaction")
	ErrTransactionRolledBack = errors.New("transaction rolled back because it has been marked as rollback-only")
)

// Synchronization 事务结束后的回调,在最外层事务结束后以原始ctx执行
type Synchronization interface {
	AfterCommit(ctx context.Context)
	AfterCompletion(ctx context.Context, committed bool)
}

// OnCommit adapts a function to a Synchronization called only after a successful commit.
type OnCommit func(ctx context.Context)

func (f OnCommit) AfterCommit(ctx context.Context) { f(ctx) }

func (OnCommit) AfterCompletion(context.Context, bool) {}

// OnCompletion adapts a function to a Synchronization called after commit or rollback.
type OnCompletion func(ctx context.Context, committed bool)

func (OnCompletion) AfterCommit(context.Context) {}

func (f OnCompletion) AfterCompletion(ctx context.Context, committed bool) { f(ctx, committed) }

type txKey struct{}

type txState struct {
	db *gorm.DB

	mu           sync.Mutex
	rollbackOnly bool
	syncs        []Synchronization
	deferred     []func(*gorm.DB) error
}

func stateFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// TxManager binds gorm transactions to context.Context.
type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// Transactional runs fn inside the transaction carried by ctx, or begins one.
// A joined call that fails marks the outer transaction rollback-only.
func (m *TxManager) Transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	if st := stateFrom(ctx); st != nil {
		err := fn(ctx)
		if err != nil {
			st.setRollbackOnly()
		}
		return err
	}
	return m.begin(ctx, fn)
}

// RequiresNew always runs fn in a fresh transaction, suspending the caller's one.
func (m *TxManager) RequiresNew(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.begin(context.WithValue(ctx, txKey{}, (*txState)(nil)), fn)
}

func (m *TxManager) begin(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.WithStack(tx.Error)
	}
	st := &txState{db: tx}
	txCtx := context.WithValue(ctx, txKey{}, st)

	committed := false
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			st.complete(ctx, false)
			panic(r)
		}
		st.complete(ctx, committed)
	}()

	err = fn(txCtx)
	if err == nil {
		err = st.flush()
	}
	if err != nil || st.isRollbackOnly() {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			err = multierr.Append(err, errors.WithStack(rbErr))
		}
		if err == nil {
			err = ErrTransactionRolledBack
		}
		return err
	}
	if err = tx.Commit().Error; err != nil {
		return errors.WithStack(err)
	}
	committed = true
	return nil
}

func (s *txState) setRollbackOnly() {
	s.mu.Lock()
	s.rollbackOnly = true
	s.mu.Unlock()
}

func (s *txState) isRollbackOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackOnly
}

func (s *txState) flush() error {
	s.mu.Lock()
	pending := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, f := range pending {
		if err := f(s.db); err != nil {
			return err
		}
	}
	return nil
}

func (s *txState) complete(ctx context.Context, committed bool) {
	s.mu.Lock()
	syncs := s.syncs
	s.syncs = nil
	s.mu.Unlock()
	if committed {
		for _, sn := range syncs {
			runSynchronization(ctx, func() { sn.AfterCommit(ctx) })
		}
	}
	for _, sn := range syncs {
		runSynchronization(ctx, func() { sn.AfterCompletion(ctx, committed) })
	}
}

func runSynchronization(ctx context.Context, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.From(ctx).Error("transaction synchronization panic",
				zap.String("panic", fmt.Sprint(r)), zap.ByteString("stack", debug.Stack()))
		}
	}()
	f()
}

// InTransaction reports whether ctx carries an active transaction.
func InTransaction(ctx context.Context) bool {
	return stateFrom(ctx) != nil
}

func SetRollbackOnly(ctx context.Context) error {
	st := stateFrom(ctx)
	if st == nil {
		return ErrNoTransaction
	}
	st.setRollbackOnly()
	return nil
}

func IsRollbackOnly(ctx context.Context) bool {
	st := stateFrom(ctx)
	return st != nil && st.isRollbackOnly()
}

// RegisterSynchronization 注册事务回调
func RegisterSynchronization(ctx context.Context, s Synchronization) error {
	st := stateFrom(ctx)
	if st == nil {
		return ErrNoTransaction
	}
	st.mu.Lock()
	st.syncs = append(st.syncs, s)
	st.mu.Unlock()
	return nil
}

// Defer buffers a write until Flush or commit.
func Defer(ctx context.Context, f func(*gorm.DB) error) error {
	st := stateFrom(ctx)
	if st == nil {
		return ErrNoTransaction
	}
	st.mu.Lock()
	st.deferred = append(st.deferred, f)
	st.mu.Unlock()
	return nil
}

// Flush executes the buffered writes of the current transaction.
func Flush(ctx context.Context) error {
	st := stateFrom(ctx)
	if st == nil {
		return nil
	}
	return st.flush()
}

// Conn returns the transaction of ctx, or fallback bound to ctx.
func Conn(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if st := stateFrom(ctx); st != nil {
		return st.db.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}
