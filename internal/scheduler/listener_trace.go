package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type traceListener struct {
	logger *zap.Logger
	// 级别在构造时确定
	debug bool
	info  bool
	warn  bool
}

// NewTraceListener logs every fire, veto and outcome on l.
func NewTraceListener(l *zap.Logger) Listener {
	if l == nil {
		l = zap.NewNop()
	}
	core := l.Core()
	return &traceListener{
		logger: l,
		debug:  core.Enabled(zapcore.DebugLevel),
		info:   core.Enabled(zapcore.InfoLevel),
		warn:   core.Enabled(zapcore.WarnLevel),
	}
}

func (t *traceListener) Name() string {
	return "trace"
}

func (t *traceListener) JobToBeExecuted(_ context.Context, jc map[string]interface{}) {
	if t.debug {
		t.logger.Debug("job to be executed", fields(jc)...)
	}
}

func (t *traceListener) JobExecutionVetoed(_ context.Context, jc map[string]interface{}) {
	if t.info {
		t.logger.Info("job execution vetoed", fields(jc)...)
	}
}

func (t *traceListener) JobWasExecuted(_ context.Context, jc map[string]interface{}, err error) {
	if err != nil {
		if t.warn {
			t.logger.Warn("job was executed with error", append(fields(jc), zap.Error(err))...)
		}
		return
	}
	if t.info {
		t.logger.Info("job was executed", fields(jc)...)
	}
}

func fields(jc map[string]interface{}) []zap.Field {
	fs := make([]zap.Field, 0, 8)
	for _, key := range []string{ContextTenantID, ContextJobID, ContextJobName, ContextTriggerName,
		ContextFireInstanceID} {
		if v, ok := jc[key]; ok {
			fs = append(fs, zap.Any(key, v))
		}
	}
	for _, key := range []string{ContextFireTime, ContextNextFireTime} {
		if v, ok := jc[key].(time.Time); ok {
			fs = append(fs, zap.Time(key, v))
		}
	}
	if v, ok := jc[ContextJobRunTime].(time.Duration); ok && v > 0 {
		fs = append(fs, zap.Duration(ContextJobRunTime, v))
	}
	return fs
}
