package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jobscheduler/pkg/timex"
)

// New builds the process logger. The level set here is shared with every other
// logger built by New and follows later changes made through /log.
func New(opts ...Option) *zap.Logger {
	o := &option{
		level:  zapcore.InfoLevel.String(),
		format: FormatConsole,
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}
	level.SetLevel(newLevel(o.level))

	encoder := zapcore.NewConsoleEncoder(newEncoderConfig())
	if o.format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(newEncoderConfig())
	}
	fields := o.fields
	if o.serverName != "" {
		fields = append(fields, zap.String("service_name", o.serverName))
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(o.writer), level).With(fields)
	// 大于error增加堆栈信息
	return zap.New(core).WithOptions(zap.AddCaller(),
		zap.AddStacktrace(zapcore.DPanicLevel), zap.WithClock(systemClock{}))
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "Message",
		LevelKey:       "Level",
		TimeKey:        "Time",
		NameKey:        "Logger",
		CallerKey:      "Caller",
		StacktraceKey:  "Stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func newLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zap.InfoLevel
	}
	return l
}

// systemClock 日志时间统一使用东八区
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().In(timex.CST)
}

func (systemClock) NewTicker(duration time.Duration) *time.Ticker {
	return time.NewTicker(duration)
}
