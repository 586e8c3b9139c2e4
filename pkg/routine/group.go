package routine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/multierr"
)

// ErrGroup runs goroutines sharing one context. The first failure cancels the
// context, Wait returns every failure combined.
type ErrGroup struct {
	waitGroup   sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	sem         chan struct{}
	recoverFunc func(ctx context.Context, r interface{})

	mu  sync.Mutex
	err error
}

// NewGroup starts a recoverable goroutine ErrGroup with a context.
func NewGroup(ctx context.Context, opts ...Option) *ErrGroup {
	newCtx, cancel := context.WithCancel(ctx)

	opt := option{}
	for _, o := range opts {
		o(&opt)
	}
	g := &ErrGroup{
		ctx:         newCtx,
		cancel:      cancel,
		recoverFunc: opt.recoverFunc,
	}
	if opt.limit > 0 {
		g.sem = make(chan struct{}, opt.limit)
	}
	return g
}

// Go starts a recoverable goroutine with a context. A panic becomes an error of the group.
func (e *ErrGroup) Go(goroutine func(context.Context) error) {
	if e.sem != nil {
		e.sem <- struct{}{}
	}
	e.waitGroup.Add(1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				if e.recoverFunc != nil {
					e.recoverFunc(e.ctx, r)
				}
				err = fmt.Errorf("%v.Stack:%s", r, debug.Stack())
			}
			if err != nil {
				e.mu.Lock()
				e.err = multierr.Append(e.err, err)
				e.mu.Unlock()
				e.cancel()
			}
			if e.sem != nil {
				<-e.sem
			}
			e.waitGroup.Done()
		}()
		err = goroutine(e.ctx)
	}()
}

func (e *ErrGroup) Wait() error {
	e.waitGroup.Wait()
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
