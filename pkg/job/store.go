package job

import (
	"context"
	"time"
)

// CompletedInstruction tells the Store what to do with a trigger after its job ran.
type CompletedInstruction int

const (
	InstructionNoop CompletedInstruction = iota
	InstructionSetTriggerError
)

// AcquireOptions bounds one acquisition round.
type AcquireOptions struct {
	Now              time.Time
	NoLaterThan      time.Time
	MaxCount         int
	MisfireThreshold time.Duration
	// TimeWindow 批内触发器与第一个触发器的最大触发时间差
	TimeWindow time.Duration
}

// FiredBundle is the result of firing one acquired trigger.
type FiredBundle struct {
	Job               *JobDetail
	Trigger           *Trigger
	ScheduledFireTime time.Time
	FireTime          time.Time
	PreviousFireTime  time.Time
	NextFireTime      time.Time
}

// Store persists jobs, triggers and their states.
// Every method resolves its connection from ctx, so callers running inside
// an application transaction join it.
type Store interface {
	StoreJob(ctx context.Context, job *JobDetail, replace bool) error
	// RemoveJob removes the job and all of its triggers.
	RemoveJob(ctx context.Context, key JobKey) (bool, error)
	RetrieveJob(ctx context.Context, key JobKey) (*JobDetail, error)
	CheckJobExists(ctx context.Context, key JobKey) (bool, error)

	StoreTrigger(ctx context.Context, trigger *Trigger, replace bool) error
	// RemoveTrigger removes the trigger and its job once a non durable job has no trigger left.
	RemoveTrigger(ctx context.Context, key TriggerKey) (bool, error)
	// ReplaceTrigger swaps the trigger stored under key for trigger, which must target the same job.
	ReplaceTrigger(ctx context.Context, key TriggerKey, trigger *Trigger) (bool, error)
	RetrieveTrigger(ctx context.Context, key TriggerKey) (*Trigger, error)
	TriggersOfJob(ctx context.Context, key JobKey) ([]*Trigger, error)

	JobGroupNames(ctx context.Context) ([]string, error)
	JobKeys(ctx context.Context, group string) ([]JobKey, error)
	TriggerGroupNames(ctx context.Context) ([]string, error)
	TriggerKeys(ctx context.Context, group string) ([]TriggerKey, error)
	TriggerState(ctx context.Context, key TriggerKey) (TriggerState, error)

	PauseTrigger(ctx context.Context, key TriggerKey) error
	ResumeTrigger(ctx context.Context, key TriggerKey) error
	PauseTriggerGroup(ctx context.Context, group string) error
	ResumeTriggerGroup(ctx context.Context, group string) error
	PausedTriggerGroups(ctx context.Context) ([]string, error)

	// AcquireNextTriggers moves due NORMAL triggers into ACQUIRED, applying misfire
	// instructions on the way. The result is ordered by fire time then priority.
	AcquireNextTriggers(ctx context.Context, opts AcquireOptions) ([]*Trigger, error)
	ReleaseAcquiredTrigger(ctx context.Context, trigger *Trigger) error
	// TriggersFired advances acquired triggers. A nil bundle means the trigger
	// changed since acquisition and must not fire.
	TriggersFired(ctx context.Context, triggers []*Trigger, now time.Time) ([]*FiredBundle, error)
	TriggeredJobComplete(ctx context.Context, trigger *Trigger, job *JobDetail, instruction CompletedInstruction) error

	// RecoverState releases ACQUIRED and BLOCKED states left behind by a previous process.
	RecoverState(ctx context.Context) error
	ClearAll(ctx context.Context) error
}
