package routine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	testList := []struct {
		name      string
		withHook  bool
		input     []func(ctx context.Context)
		recovered int32
	}{
		{
			name: "default",
			input: []func(ctx context.Context){
				func(ctx context.Context) {},
				func(ctx context.Context) {
					panic("test0")
				},
			},
		},
		{
			name:     "recover",
			withHook: true,
			input: []func(ctx context.Context){
				func(ctx context.Context) {
					panic("op")
				},
				func(ctx context.Context) {
					panic("op1")
				},
				func(ctx context.Context) {},
			},
			recovered: 2,
		},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			var (
				p     *Pool
				count int32
			)
			if data.withHook {
				p = NewPool(context.Background(), Recover(func(context.Context, interface{}) {
					atomic.AddInt32(&count, 1)
				}))
			} else {
				p = NewPool(context.Background())
			}
			for _, f := range data.input {
				p.Go(f)
			}
			p.Wait()
			assert.Equal(t, data.recovered, atomic.LoadInt32(&count))
			assert.Equal(t, 0, p.Running())
		})
	}
}

func TestPoolLimit(t *testing.T) {
	p := NewPool(context.Background(), Limit(2))
	assert.Equal(t, 2, p.Available())

	release := make(chan struct{})
	p.Go(func(context.Context) { <-release })
	p.Go(func(context.Context) { <-release })
	assert.Equal(t, 0, p.Available())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.WaitAvailable(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	n, err := p.WaitAvailable(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	p.Wait()
	assert.Equal(t, 2, p.Available())
}

func TestPoolGoBlocksWhenFull(t *testing.T) {
	p := NewPool(context.Background(), Limit(1))
	release := make(chan struct{})
	p.Go(func(context.Context) { <-release })

	started := make(chan struct{})
	go p.Go(func(context.Context) { close(started) })
	select {
	case <-started:
		t.Fatal("second routine started while the pool was full")
	case <-time.After(30 * time.Millisecond):
	}

	waited := make(chan int, 1)
	go func() {
		n, err := p.WaitAvailable(context.Background())
		if err == nil {
			waited <- n
		}
	}()
	close(release)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second routine never started")
	}
	select {
	case n := <-waited:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("WaitAvailable never returned")
	}
	p.Wait()
}
