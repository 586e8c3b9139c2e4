package logger

import (
	"io"

	"go.uber.org/zap"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type option struct {
	level      string
	format     string
	writer     io.Writer
	serverName string
	fields     []zap.Field
}

type Option func(*option)

func WithLevel(level string) Option {
	return func(o *option) {
		o.level = level
	}
}

// WithFormat console 或 json, 其他值按 console 处理
func WithFormat(format string) Option {
	return func(o *option) {
		o.format = format
	}
}

func WithWriter(w io.Writer) Option {
	return func(o *option) {
		o.writer = w
	}
}

// WithFields 附加在每条日志上的字段,如节点名
func WithFields(fields ...zap.Field) Option {
	return func(o *option) {
		o.fields = append(o.fields, fields...)
	}
}

func WithServerName(name string) Option {
	return func(o *option) {
		o.serverName = name
	}
}
