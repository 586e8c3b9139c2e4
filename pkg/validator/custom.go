package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var orderCompile = regexp.MustCompile(`^[a-z][a-z_]{0,30}[a-z](\s(asc|ASC|desc|DESC))?(,\s?[a-z][a-z_]{0,30}[a-z](\s(asc|ASC|desc|DESC))?)*$`)

// OrderWithDBSort 排序字段,例如 "job_name asc,created_at desc"
func OrderWithDBSort(fl validator.FieldLevel) bool {
	valid, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return orderCompile.MatchString(valid)
}

var durationCompile = regexp.MustCompile(`^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`)

// Duration 时长字符串,例如 "720h"、"1h30m"
func Duration(fl validator.FieldLevel) bool {
	valid, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return durationCompile.MatchString(valid)
}
