package routine

import "context"

type option struct {
	recoverFunc func(ctx context.Context, r interface{})
	limit       int
}

type Option func(*option)

// Recover register to Pool
func Recover(f func(context.Context, interface{})) Option {
	return func(o *option) { o.recoverFunc = f }
}

// Limit 限制同时运行的协程数量,<=0 不限制
func Limit(n int) Option {
	return func(o *option) { o.limit = n }
}
