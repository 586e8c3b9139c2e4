package event

import (
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

type option struct {
	handler jsoniter.API
	buffer  int64
	logger  *zap.Logger
}

type Option func(*option)

func WithJSON(handler jsoniter.API) Option {
	return func(o *option) {
		o.handler = handler
	}
}

// WithBuffer sets the per subscriber channel buffer.
func WithBuffer(buffer int64) Option {
	return func(o *option) {
		o.buffer = buffer
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *option) {
		o.logger = logger
	}
}
