package job

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrEmptyCycle 既没有按天也没有按周
var ErrEmptyCycle = errors.New("cycle needs day or weeks")

// CycleValue is a daily or weekly cycle at whole hours, the shape admin forms
// submit for recurring jobs. It converts to a seconds-first cron expression.
type CycleValue struct {
	Day   int   `json:"day,omitempty" binding:"excluded_with=Weeks,omitempty,min=1,max=30"`
	Weeks []int `json:"weeks" binding:"excluded_with=Day,dive,min=0,max=6"`
	Hours []int `json:"hours" binding:"required,dive,min=0,max=23"`
}

// ToCronJobExpr 每隔 Day 天或每周 Weeks 的 Hours 整点触发
func (c CycleValue) ToCronJobExpr() (string, error) {
	if len(c.Hours) == 0 {
		return "", errors.New("cycle needs hours")
	}
	dom, dow := "?", "?"
	switch {
	case c.Day > 0:
		dom = "*/" + strconv.Itoa(c.Day)
	case len(c.Weeks) > 0:
		dow = joinInts(c.Weeks)
	default:
		return "", ErrEmptyCycle
	}
	return strings.Join([]string{"0", "0", joinInts(c.Hours), dom, "*", dow}, " "), nil
}

// Parse reads back an expression built by ToCronJobExpr. A trailing year field is ignored.
func (c *CycleValue) Parse(v string) error {
	fields := strings.Fields(v)
	switch len(fields) {
	case 7:
		fields = fields[:6]
	case 6:
	default:
		return errors.Errorf("%s is not a cycle expression", v)
	}
	if fields[0] != "0" || fields[1] != "0" || fields[4] != "*" {
		return errors.Errorf("%s is not a cycle expression", v)
	}
	hours, err := parseInts(fields[2])
	if err != nil {
		return errors.WithMessage(err, "parse hours")
	}
	var parsed CycleValue
	parsed.Hours = hours
	switch {
	case fields[3] == "?":
		if parsed.Weeks, err = parseInts(fields[5]); err != nil {
			return errors.WithMessage(err, "parse weeks")
		}
	case strings.HasPrefix(fields[3], "*/") && fields[5] == "?":
		if parsed.Day, err = strconv.Atoi(strings.TrimPrefix(fields[3], "*/")); err != nil {
			return errors.Wrap(err, "parse day")
		}
	default:
		return errors.Errorf("%s is not a cycle expression", v)
	}
	*c = parsed
	return nil
}

func joinInts(list []int) string {
	s := make([]string, 0, len(list))
	for _, v := range list {
		s = append(s, strconv.Itoa(v))
	}
	return strings.Join(s, ",")
}

func parseInts(v string) ([]int, error) {
	parts := strings.Split(v, ",")
	list := make([]int, 0, len(parts))
	for _, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		list = append(list, num)
	}
	return list, nil
}
