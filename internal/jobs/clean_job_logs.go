package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"jobscheduler/internal/scheduler"
	"jobscheduler/pkg/logger"
)

// CleanJobLogsType is the job type of the failure log clean up.
const CleanJobLogsType = "clean-job-logs"

// ParamRetention overrides the retention of one scheduled clean up, e.g. "720h".
const ParamRetention = "retention"

// DefaultRetention 30天
const DefaultRetention = 30 * 24 * time.Hour

type option struct {
	retention time.Duration
	nowFunc   func() time.Time
}

type Option func(*option)

func WithRetention(retention time.Duration) Option {
	return func(o *option) {
		o.retention = retention
	}
}

func WithNowFunc(f func() time.Time) Option {
	return func(o *option) {
		o.nowFunc = f
	}
}

// NewCleanJobLogsJob returns the factory of a job deleting the failure logs of its
// tenant not updated within the retention.
func NewCleanJobLogsJob(opts ...Option) scheduler.Factory {
	o := option{
		retention: DefaultRetention,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return func() scheduler.Job {
		return &cleanJobLogsJob{option: o}
	}
}

// Register adds the built-in jobs to r.
func Register(r *scheduler.Registry, opts ...Option) error {
	return r.Register(CleanJobLogsType, NewCleanJobLogsJob(opts...))
}

type cleanJobLogsJob struct {
	option
	id       scheduler.JobIdentifier
	services *scheduler.Services
}

func (c *cleanJobLogsJob) SetParameters(params map[string]interface{}) error {
	v, ok := params[ParamRetention]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return errors.Errorf("parameter %s must be a duration string, got %T", ParamRetention, v)
	}
	retention, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parameter %s", ParamRetention)
	}
	if retention <= 0 {
		return errors.Errorf("parameter %s must be positive", ParamRetention)
	}
	c.retention = retention
	return nil
}

func (c *cleanJobLogsJob) SetIdentifier(id scheduler.JobIdentifier) {
	c.id = id
}

func (c *cleanJobLogsJob) SetServices(services *scheduler.Services) {
	c.services = services
}

func (c *cleanJobLogsJob) Execute(ctx context.Context) error {
	if c.services == nil {
		return errors.New("services are not set")
	}
	deadline := c.nowFunc().Add(-c.retention)
	deleted, err := c.services.Stores.JobLogs().DeleteBefore(ctx, c.id.TenantID, deadline)
	if err != nil {
		return scheduler.Retryable(err)
	}
	logger.From(ctx).Info("job logs cleaned",
		zap.Int64("tenant_id", c.id.TenantID),
		zap.Time("deadline", deadline),
		zap.Int64("deleted", deleted))
	return nil
}
