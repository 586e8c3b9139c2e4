package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

var ErrSkipScheduleJob = errors.New("skip scheduleJob")

// Schedule describes the fire times of a trigger.
type Schedule interface {
	// Next returns the first fire time strictly after the given time,
	// or ErrSkipScheduleJob when there is none.
	Next(after time.Time) (time.Time, error)

	// Description returns the description of the Schedule.
	Description() string
}

// Verify runAtSchedule satisfies the Schedule interface.
var _ Schedule = runAtSchedule{}

// RunAt returns a Schedule firing once at the given time.
func RunAt(at time.Time) Schedule {
	return runAtSchedule{at: at}
}

type runAtSchedule struct {
	at time.Time
}

func (s runAtSchedule) Next(after time.Time) (time.Time, error) {
	if s.at.After(after) {
		return s.at, nil
	}
	return time.Time{}, ErrSkipScheduleJob
}

func (s runAtSchedule) Description() string {
	return fmt.Sprintf("runAt (%s)", s.at.Format(time.RFC3339))
}

// 秒 分 时 日 月 周,秒可省略
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Verify cronSchedule satisfies the Schedule interface.
var _ Schedule = (*cronSchedule)(nil)

type cronSchedule struct {
	expression string
	schedule   cron.Schedule
}

// ParseCron parses a seconds-first cron expression. A trailing year field
// is accepted only as "*" or "?".
func ParseCron(expression string, loc *time.Location) (Schedule, error) {
	fields := strings.Fields(expression)
	if len(fields) == 7 {
		if year := fields[6]; year != "*" && year != "?" {
			return nil, errors.Errorf("cron %q: year field %q is not supported", expression, year)
		}
		fields = fields[:6]
	}
	spec := strings.Join(fields, " ")
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cron %q", expression)
	}
	if s, ok := schedule.(*cron.SpecSchedule); ok && loc != nil {
		s.Location = loc
	}
	return &cronSchedule{expression: expression, schedule: schedule}, nil
}

func (s *cronSchedule) Next(after time.Time) (time.Time, error) {
	next := s.schedule.Next(after)
	if next.IsZero() {
		return time.Time{}, ErrSkipScheduleJob
	}
	return next, nil
}

func (s *cronSchedule) Description() string {
	return fmt.Sprintf("cron (%s)", s.expression)
}
