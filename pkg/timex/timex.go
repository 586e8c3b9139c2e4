package timex

import (
	"time"
)

const (
	DefaultLocation  = "Asia/Shanghai"
	TimeFormatLayout = "2006-01-02 15:04:05"
)

// CST 缺少时区数据时退化为固定偏移
var CST = func() *time.Location {
	loc, err := time.LoadLocation(DefaultLocation)
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

func TimeFormat(t time.Time) string {
	return t.In(CST).Format(TimeFormatLayout)
}

// UnixMilli 转换为毫秒时间戳,零值返回0
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

// FromUnixMilli 毫秒时间戳转换为UTC时间,0返回零值
func FromUnixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}
