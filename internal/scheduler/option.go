package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"jobscheduler/internal/event"
)

// DefaultRetryDelay is the delay before a job that failed with a retryable error fires again.
const DefaultRetryDelay = 5 * time.Second

type option struct {
	registry   *Registry
	events     event.Service
	retry      backoff.BackOff
	listeners  []Listener
	registerer prometheus.Registerer
	logger     *zap.Logger
	tracer     trace.TracerProvider
	nowFunc    func() time.Time
}

type Option func(*option)

// WithRegistry sets the job types the service can execute.
func WithRegistry(registry *Registry) Option {
	return func(o *option) {
		o.registry = registry
	}
}

func WithEvents(events event.Service) Option {
	return func(o *option) {
		o.events = events
	}
}

// WithRetryDelay fires retryable jobs again after d.
func WithRetryDelay(d time.Duration) Option {
	return func(o *option) {
		o.retry = backoff.NewConstantBackOff(d)
	}
}

// WithRetryBackOff computes the retry delay from b.
func WithRetryBackOff(b backoff.BackOff) Option {
	return func(o *option) {
		o.retry = b
	}
}

// WithListeners appends listeners after the built-in ones.
func WithListeners(listeners ...Listener) Option {
	return func(o *option) {
		o.listeners = append(o.listeners, listeners...)
	}
}

// WithMetrics enables the metrics listener on registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(o *option) {
		o.registerer = registerer
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *option) {
		o.logger = l
	}
}

func WithNowFunc(f func() time.Time) Option {
	return func(o *option) {
		o.nowFunc = f
	}
}

// WithTracerProvider 默认使用全局的 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *option) {
		o.tracer = tp
	}
}
