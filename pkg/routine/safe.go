package routine

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

type Pool struct {
	waitGroup sync.WaitGroup
	ctx       context.Context
	running   int64
	sem       *semaphore.Weighted
	option
}

// NewPool creates a Pool.
func NewPool(ctx context.Context, opts ...Option) *Pool {
	p := &Pool{
		ctx:    ctx,
		option: option{recoverFunc: defaultRecoverGoroutine},
	}
	for _, opt := range opts {
		opt(&p.option)
	}
	if p.limit > 0 {
		p.sem = semaphore.NewWeighted(int64(p.limit))
	}
	return p
}

// Go starts a recoverable goroutine with a context.
// It blocks while the pool is full.
func (p *Pool) Go(goroutine func(context.Context)) {
	if p.sem != nil {
		// Background 永不取消,Acquire 不会失败
		_ = p.sem.Acquire(context.Background(), 1)
	}
	atomic.AddInt64(&p.running, 1)
	p.waitGroup.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if p.recoverFunc != nil {
					p.recoverFunc(p.ctx, r)
				}
			}
			atomic.AddInt64(&p.running, -1)
			if p.sem != nil {
				p.sem.Release(1)
			}
			p.waitGroup.Done()
		}()
		goroutine(p.ctx)
	}()
}

// Available 当前可立即启动的协程数量
func (p *Pool) Available() int {
	if p.sem == nil {
		return math.MaxInt32
	}
	if n := p.limit - p.Running(); n > 0 {
		return n
	}
	return 0
}

// Running 正在运行的协程数量
func (p *Pool) Running() int {
	return int(atomic.LoadInt64(&p.running))
}

// WaitAvailable blocks until at least one slot is free or ctx is done.
// The returned count is at least 1 on success.
func (p *Pool) WaitAvailable(ctx context.Context) (int, error) {
	if p.sem == nil {
		return math.MaxInt32, nil
	}
	if !p.sem.TryAcquire(1) {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return 0, err
		}
	}
	p.sem.Release(1)
	if n := p.Available(); n > 0 {
		return n, nil
	}
	return 1, nil
}

// Wait Waits all started routines, waiting for their termination.
func (p *Pool) Wait() {
	p.waitGroup.Wait()
}

func defaultRecoverGoroutine(_ context.Context, err interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, "Error:%v\nStack: %s", err, debug.Stack())
}
