package logger

import (
	"context"

	"go.uber.org/zap"
)

type logKey struct{}

// From 从上下文获取日志,不存在时返回空日志
func From(ctx context.Context) *zap.Logger {
	l, ok := ctx.Value(logKey{}).(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}
	return l
}

func With(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, l)
}
