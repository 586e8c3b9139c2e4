package job

import (
	"time"

	"github.com/pkg/errors"
)

type TriggerState string

const (
	StateNone          TriggerState = "NONE"
	StateNormal        TriggerState = "NORMAL"
	StatePaused        TriggerState = "PAUSED"
	StateComplete      TriggerState = "COMPLETE"
	StateError         TriggerState = "ERROR"
	StateBlocked       TriggerState = "BLOCKED"
	StatePausedBlocked TriggerState = "PAUSED_BLOCKED"
	StateAcquired      TriggerState = "ACQUIRED"
)

type ScheduleType string

const (
	ScheduleOnce ScheduleType = "once"
	ScheduleCron ScheduleType = "cron"
)

// MisfireInstruction decides what happens to a fire time missed by more than the misfire threshold.
type MisfireInstruction int

const (
	// MisfireSmart fires once triggers immediately and behaves as MisfireDoNothing for cron.
	MisfireSmart MisfireInstruction = iota
	// MisfireFireNow fires once immediately, then resumes the regular schedule.
	MisfireFireNow
	// MisfireDoNothing drops the missed fire, the next fire is the first one after now.
	MisfireDoNothing
	// MisfireSkipToNow drops every missed fire and continues the schedule from now.
	MisfireSkipToNow
)

const DefaultPriority = 5

// Trigger is the persisted fire rule of a job.
type Trigger struct {
	Key                TriggerKey
	JobKey             JobKey
	Description        string
	Type               ScheduleType
	StartTime          time.Time
	EndTime            time.Time
	CronExpression     string
	TimeZone           string
	Priority           int
	MisfireInstruction MisfireInstruction
	NextFireTime       time.Time
	PreviousFireTime   time.Time
	TimesTriggered     int
	State              TriggerState
	FireInstanceID     string
}

// NewOnceTrigger returns a trigger firing once at start.
func NewOnceTrigger(key TriggerKey, jobKey JobKey, start time.Time) *Trigger {
	return &Trigger{
		Key:       key,
		JobKey:    jobKey,
		Type:      ScheduleOnce,
		StartTime: start,
		Priority:  DefaultPriority,
	}
}

// NewCronTrigger returns a trigger firing on a cron expression from start on.
func NewCronTrigger(key TriggerKey, jobKey JobKey, expression string, start time.Time) *Trigger {
	return &Trigger{
		Key:            key,
		JobKey:         jobKey,
		Type:           ScheduleCron,
		StartTime:      start,
		CronExpression: expression,
		Priority:       DefaultPriority,
	}
}

func (t *Trigger) Clone() *Trigger {
	c := *t
	return &c
}

func (t *Trigger) Validate() error {
	if t.Key.Name == "" || t.Key.Group == "" {
		return errors.New("trigger key is required")
	}
	if t.JobKey.Name == "" || t.JobKey.Group == "" {
		return errors.New("trigger job key is required")
	}
	switch t.Type {
	case ScheduleOnce:
		if t.StartTime.IsZero() {
			return errors.New("once trigger requires a start time")
		}
	case ScheduleCron:
		if _, err := t.Schedule(); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown schedule type %q", t.Type)
	}
	if !t.EndTime.IsZero() && t.EndTime.Before(t.StartTime) {
		return errors.New("end time cannot be before start time")
	}
	return nil
}

// Schedule builds the Schedule described by the trigger.
func (t *Trigger) Schedule() (Schedule, error) {
	switch t.Type {
	case ScheduleOnce:
		return RunAt(t.StartTime), nil
	case ScheduleCron:
		loc := time.UTC
		if t.TimeZone != "" {
			l, err := time.LoadLocation(t.TimeZone)
			if err != nil {
				return nil, errors.Wrapf(err, "trigger %s", t.Key)
			}
			loc = l
		}
		return ParseCron(t.CronExpression, loc)
	}
	return nil, errors.Errorf("unknown schedule type %q", t.Type)
}

// FireTimeAfter returns the first fire time after the given time, zero when none.
func (t *Trigger) FireTimeAfter(after time.Time) time.Time {
	s, err := t.Schedule()
	if err != nil {
		return time.Time{}
	}
	next, err := s.Next(after)
	if err != nil {
		return time.Time{}
	}
	if !t.EndTime.IsZero() && next.After(t.EndTime) {
		return time.Time{}
	}
	return next
}

// ComputeFirstFireTime sets and returns NextFireTime from StartTime.
func (t *Trigger) ComputeFirstFireTime() time.Time {
	if t.Type == ScheduleOnce {
		t.NextFireTime = t.StartTime
	} else {
		t.NextFireTime = t.FireTimeAfter(t.StartTime.Add(-time.Nanosecond))
	}
	return t.NextFireTime
}

// Triggered advances the trigger past its current fire time.
func (t *Trigger) Triggered() {
	t.TimesTriggered++
	t.PreviousFireTime = t.NextFireTime
	if t.NextFireTime.IsZero() {
		return
	}
	t.NextFireTime = t.FireTimeAfter(t.NextFireTime)
}

// MayFireAgain reports whether the trigger has a future fire time.
func (t *Trigger) MayFireAgain() bool {
	return !t.NextFireTime.IsZero()
}

// IsMisfired reports whether NextFireTime lies more than threshold before now.
func (t *Trigger) IsMisfired(now time.Time, threshold time.Duration) bool {
	return !t.NextFireTime.IsZero() && t.NextFireTime.Before(now.Add(-threshold))
}

// UpdateAfterMisfire applies the misfire instruction. The trigger may end
// up with a zero NextFireTime, in which case it will never fire again.
func (t *Trigger) UpdateAfterMisfire(now time.Time) {
	instruction := t.MisfireInstruction
	if instruction == MisfireSmart {
		if t.Type == ScheduleOnce {
			instruction = MisfireFireNow
		} else {
			instruction = MisfireDoNothing
		}
	}
	switch instruction {
	case MisfireFireNow:
		if !t.EndTime.IsZero() && now.After(t.EndTime) {
			t.NextFireTime = time.Time{}
			return
		}
		t.NextFireTime = now
	case MisfireSkipToNow:
		t.PreviousFireTime = now
		t.NextFireTime = t.FireTimeAfter(now)
	default:
		t.NextFireTime = t.FireTimeAfter(now)
	}
}
