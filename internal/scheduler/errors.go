package scheduler

import (
	"fmt"

	"github.com/pkg/errors"

	"jobscheduler/pkg/code"
	"jobscheduler/pkg/job"
)

// RetryableError marks a transient failure: the job is fired again after the retry delay
// and no failure is recorded.
type RetryableError struct {
	err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.err
}

// Retryable wraps err so that the job is fired again later.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{err: err}
}

func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// JobExecutionError is returned to the engine when a job failed for good.
type JobExecutionError struct {
	Identifier JobIdentifier
	Err        error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %s(%d) of tenant %d failed: %v",
		e.Identifier.JobName, e.Identifier.JobID, e.Identifier.TenantID, e.Err)
}

func (e *JobExecutionError) Unwrap() error {
	return e.Err
}

// Error 调度相关错误,对外统一为错误码
type Error struct {
	Code code.ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Code.Message(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e.Code.Is(target)
}

func (e *Error) As(target interface{}) bool {
	if p, ok := target.(*code.ErrorCode); ok {
		*p = e.Code.WithResult(e.Err.Error())
		return true
	}
	return false
}

// wrap 包装为调度错误,已带错误码的保持原错误码
func wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var ec code.ErrorCode
	if errors.As(err, &ec) {
		return errors.WithMessagef(err, format, args...)
	}
	return &Error{Code: codeOf(err), Err: errors.Wrapf(err, format, args...)}
}

func codeOf(err error) code.ErrorCode {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return code.ErrJobNotFound
	case errors.Is(err, job.ErrTriggerNotFound):
		return code.ErrTriggerNotFound
	case errors.Is(err, job.ErrAlreadyStarted):
		return code.ErrAlreadyStarted
	case errors.Is(err, job.ErrNotStarted):
		return code.ErrSchedulerNotStarted
	}
	return code.ErrScheduler
}
