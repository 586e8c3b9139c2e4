package scheduler

import (
	"fmt"
	"time"

	"jobscheduler/pkg/job"
)

// MisfirePolicy decides what happens to cron fires missed while the scheduler was late.
type MisfirePolicy int

const (
	// MisfireNone drops the missed fire.
	MisfireNone MisfirePolicy = iota
	// MisfireAll drops every missed fire and continues the schedule from now.
	MisfireAll
	// MisfireOne fires once immediately, then resumes the schedule.
	MisfireOne
)

func (p MisfirePolicy) String() string {
	switch p {
	case MisfireNone:
		return "NONE"
	case MisfireAll:
		return "ALL"
	case MisfireOne:
		return "ONE"
	}
	return fmt.Sprintf("MisfirePolicy(%d)", int(p))
}

func (p MisfirePolicy) instruction() job.MisfireInstruction {
	switch p {
	case MisfireAll:
		return job.MisfireSkipToNow
	case MisfireOne:
		return job.MisfireFireNow
	}
	return job.MisfireDoNothing
}

// Trigger describes when a job runs.
type Trigger interface {
	Name() string
	native(key job.TriggerKey, jobKey job.JobKey) *job.Trigger
}

// OneShotTrigger fires once at StartDate.
type OneShotTrigger struct {
	TriggerName string
	StartDate   time.Time
	Priority    int
}

func (t *OneShotTrigger) Name() string {
	return t.TriggerName
}

func (t *OneShotTrigger) native(key job.TriggerKey, jobKey job.JobKey) *job.Trigger {
	nt := job.NewOnceTrigger(key, jobKey, t.StartDate)
	nt.Priority = t.Priority
	return nt
}

// CronTrigger fires on a cron expression with seconds, e.g. "*/5 * * * * ?".
type CronTrigger struct {
	TriggerName   string
	StartDate     time.Time
	Expression    string
	EndDate       time.Time
	Priority      int
	MisfirePolicy MisfirePolicy
	// TimeZone IANA时区,默认UTC
	TimeZone string
}

func (t *CronTrigger) Name() string {
	return t.TriggerName
}

func (t *CronTrigger) native(key job.TriggerKey, jobKey job.JobKey) *job.Trigger {
	nt := job.NewCronTrigger(key, jobKey, t.Expression, t.StartDate)
	nt.EndTime = t.EndDate
	nt.Priority = t.Priority
	nt.TimeZone = t.TimeZone
	nt.MisfireInstruction = t.MisfirePolicy.instruction()
	return nt
}

// JobIdentifier is the handle passed across the fire boundary.
type JobIdentifier struct {
	JobID    uint64
	TenantID int64
	JobName  string
}

func (id JobIdentifier) String() string {
	return fmt.Sprintf("%d/%s(%d)", id.TenantID, id.JobName, id.JobID)
}
