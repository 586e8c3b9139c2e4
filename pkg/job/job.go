package job

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrObjectAlreadyExists = errors.New("object already exists")
	ErrJobNotFound         = errors.New("job not found")
	ErrTriggerNotFound     = errors.New("trigger not found")
	ErrKindNotRegistered   = errors.New("job kind not registered")
	ErrAlreadyStarted      = errors.New("scheduler already started")
	ErrNotStarted          = errors.New("scheduler not started")
	ErrWillNeverFire       = errors.New("trigger will never fire")
)

// Job represents an interface to be implemented by structs which represent a 'job'
// to be performed.
type Job interface {
	// Execute is called by the Engine when the Trigger associated with this job fires.
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context, ec *ExecutionContext) error

func (f JobFunc) Execute(ctx context.Context, ec *ExecutionContext) error {
	return f(ctx, ec)
}

// JobKey 任务唯一标识,Group 同时作为分区键
type JobKey struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

func NewJobKey(group, name string) JobKey {
	return JobKey{Group: group, Name: name}
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

type TriggerKey struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

func NewTriggerKey(group, name string) TriggerKey {
	return TriggerKey{Group: group, Name: name}
}

func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

// JobDetail is the persisted definition of a job.
type JobDetail struct {
	Key         JobKey
	Kind        string
	Description string
	Data        map[string]string
	// Durable jobs survive the removal of their last trigger.
	Durable bool
	// DisallowConcurrent is filled from the kind registration.
	DisallowConcurrent bool
}

func (j *JobDetail) Clone() *JobDetail {
	c := *j
	c.Data = make(map[string]string, len(j.Data))
	for k, v := range j.Data {
		c.Data[k] = v
	}
	return &c
}

// unrecoverableError puts the trigger of the failing execution into ERROR state.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable: %v", e.err)
}

func (e *unrecoverableError) Unwrap() error {
	return e.err
}

// Unrecoverable marks err so that the engine moves the fired trigger into ERROR.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}

// ExecutionContext is handed to a Job and to every JobListener for one fire.
type ExecutionContext struct {
	JobDetail         *JobDetail
	Trigger           *Trigger
	FireInstanceID    string
	ScheduledFireTime time.Time
	FireTime          time.Time
	PreviousFireTime  time.Time
	NextFireTime      time.Time
	RefireCount       int
	JobInstance       Job
	JobRunTime        time.Duration
	Result            interface{}
}

// JobListener observes executions. Implementations must not block for long.
type JobListener interface {
	Name() string
	JobToBeExecuted(ctx context.Context, ec *ExecutionContext)
	JobExecutionVetoed(ctx context.Context, ec *ExecutionContext)
	JobWasExecuted(ctx context.Context, ec *ExecutionContext, err error)
}

// Signaler wakes the scheduling loop when a trigger may fire earlier than expected.
type Signaler interface {
	SignalSchedulingChange(candidate time.Time)
}
