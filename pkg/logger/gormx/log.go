package gormx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	log "jobscheduler/pkg/logger"
)

// NewLog gorm日志,优先使用ctx中的日志,缺省时使用l
func NewLog(l *zap.Logger, cfg logger.Config) logger.Interface {
	return &gormLog{
		Logger: l.WithOptions(zap.WithCaller(false)),
		Config: cfg,
	}
}

type gormLog struct {
	*zap.Logger
	logger.Config
}

func (g *gormLog) from(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return g.Logger
	}
	if l := log.From(ctx); l.Core().Enabled(zap.ErrorLevel) {
		return l.WithOptions(zap.WithCaller(false))
	}
	return g.Logger
}

func (g *gormLog) LogMode(level logger.LogLevel) logger.Interface {
	ng := *g
	ng.LogLevel = level
	return &ng
}

func (g *gormLog) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.LogLevel >= logger.Info {
		g.from(ctx).Info(fmt.Sprintf(msg, data...), zap.String("source", utils.FileWithLineNum()))
	}
}

func (g *gormLog) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.LogLevel >= logger.Warn {
		g.from(ctx).Warn(fmt.Sprintf(msg, data...), zap.String("source", utils.FileWithLineNum()))
	}
}

func (g *gormLog) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.LogLevel >= logger.Error {
		g.from(ctx).Error(fmt.Sprintf(msg, data...), zap.String("source", utils.FileWithLineNum()))
	}
}

func (g *gormLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && g.LogLevel >= logger.Error &&
		(!g.IgnoreRecordNotFoundError || !errors.Is(err, gorm.ErrRecordNotFound)):
		s, rows := fc()
		g.from(ctx).Error("sql failed", zap.Error(err), zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows), zap.String("sql", s), zap.String("source", utils.FileWithLineNum()))
	case elapsed > g.SlowThreshold && g.SlowThreshold != 0 && g.LogLevel >= logger.Warn:
		s, rows := fc()
		g.from(ctx).Warn(fmt.Sprintf("SLOW SQL >= %v", g.SlowThreshold), zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows), zap.String("sql", s), zap.String("source", utils.FileWithLineNum()))
	case g.LogLevel == logger.Info:
		s, rows := fc()
		g.from(ctx).Debug("sql", zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows), zap.String("sql", s))
	}
}
