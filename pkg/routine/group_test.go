package routine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestNewGroup(t *testing.T) {
	testList := []struct {
		name   string
		input  []func(ctx context.Context) error
		errNum int
	}{
		{
			name: "error",
			input: []func(ctx context.Context) error{
				func(ctx context.Context) error { return nil },
				func(ctx context.Context) error { return errors.New("error") },
			},
			errNum: 1,
		},
		{
			name: "panic",
			input: []func(ctx context.Context) error{
				func(ctx context.Context) error { return nil },
				func(ctx context.Context) error { panic("panic") },
			},
			errNum: 1,
		},
		{
			name: "all errors",
			input: []func(ctx context.Context) error{
				func(ctx context.Context) error { return errors.New("listen") },
				func(ctx context.Context) error {
					<-ctx.Done()
					return errors.New("shutdown")
				},
			},
			errNum: 2,
		},
		{
			name: "nil",
			input: []func(ctx context.Context) error{
				func(ctx context.Context) error { return nil },
				func(ctx context.Context) error { return nil },
			},
		},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			g := NewGroup(context.Background())
			for _, f := range data.input {
				g.Go(f)
			}
			err := g.Wait()
			assert.Len(t, multierr.Errors(err), data.errNum)
		})
	}
}

func TestGroupCancelAndRecover(t *testing.T) {
	var recovered int32
	g := NewGroup(context.Background(), Recover(func(context.Context, interface{}) {
		atomic.AddInt32(&recovered, 1)
	}), Limit(2))
	stopped := make(chan struct{})
	g.Go(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			close(stopped)
		case <-time.After(5 * time.Second):
		}
		return nil
	})
	g.Go(func(context.Context) error { panic("boom") })

	require.Error(t, g.Wait())
	assert.Equal(t, int32(1), atomic.LoadInt32(&recovered))
	select {
	case <-stopped:
	default:
		t.Fatal("context was not cancelled")
	}
}
