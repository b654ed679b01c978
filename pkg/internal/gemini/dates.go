package gemini

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout 选择语法与 URL 使用的紧凑日期格式.
	DateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

var (
	dateLimitLow  = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	dateLimitHigh = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

	// ChileOffset 南站观测夜标签: UTC 减 6 小时后日期在整夜内不变.
	// 北站 (HST) 的 UTC 日期本身就是夜标签.
	ChileOffset = -6 * time.Hour

	semesterRe = regexp.MustCompile(`^(20\d\d)([AB])`)
)

// Date 解析后的日期或日期时间. IsDate 为真时只有日期部分有意义.
type Date struct {
	Time   time.Time
	IsDate bool
}

// String 日期输出 YYYYMMDD，日期时间输出 YYYYMMDDThhmmss.
func (d Date) String() string {
	if d.IsDate {
		return d.Time.Format(DateLayout)
	}

	return d.Time.Format(dateTimeLayout)
}

var isoLayouts = []string{
	DateLayout,
	time.DateOnly,
	dateTimeLayout,
	"20060102T1504",
	"20060102T150405.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// ParseDate 解析日期. 支持 now/today/yesterday/tomorrow (相对 now 的 UTC 日期) 与常见 ISO8601 形式.
// 超出 1999-2100 的日期视为无效.
func ParseDate(s string, now time.Time) (Date, bool) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch s {
	case "now":
		return Date{Time: now}, true
	case "today":
		return Date{Time: today, IsDate: true}, true
	case "yesterday":
		return Date{Time: today.AddDate(0, 0, -1), IsDate: true}, true
	case "tomorrow":
		return Date{Time: today.AddDate(0, 0, 1), IsDate: true}, true
	}

	for _, layout := range isoLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}

		t = t.UTC()
		if t.Before(dateLimitLow) || t.After(dateLimitHigh) {
			return Date{}, false
		}

		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

		return Date{Time: t, IsDate: t.Equal(midnight)}, true
	}

	return Date{}, false
}

// ParseDateRange 解析 "<a>--<b>" 或只含一个 '-' 的 "<a>-<b>". 颠倒时交换两端.
func ParseDateRange(s string, now time.Time) (Date, Date, bool) {
	parts := strings.Split(s, "--")
	if len(parts) != 2 {
		parts = strings.Split(s, "-")
	}

	if len(parts) != 2 {
		return Date{}, Date{}, false
	}

	a, okA := ParseDate(parts[0], now)
	b, okB := ParseDate(parts[1], now)

	if !okA || !okB {
		return Date{}, Date{}, false
	}

	if a.Time.After(b.Time) {
		a, b = b, a
	}

	return a, b, true
}

// TimePeriod 返回 [start, end) 时间窗. 日期输入取 start 当天 00:00 到 end 次日 00:00；
// 两端都是日期时间时原样返回.
func TimePeriod(start, end Date) (time.Time, time.Time) {
	if !start.IsDate && !end.IsDate {
		return start.Time, end.Time
	}

	s := truncateDay(start.Time)
	e := truncateDay(end.Time)

	if s.After(e) {
		s, e = e, s
	}

	return s, e.AddDate(0, 0, 1)
}

// NightWindow 返回某望远镜观测夜 [start, end) 对应的 UTC 时间窗.
func NightWindow(telescope string, start, end Date) (time.Time, time.Time) {
	s, e := TimePeriod(start, end)
	if telescope == TelescopeSouth {
		return s.Add(ChileOffset), e.Add(ChileOffset)
	}

	return s, e
}

// NightLabel 返回某时刻所属观测夜的日期标签.
func NightLabel(telescope string, t time.Time) string {
	t = t.UTC()
	if telescope == TelescopeSouth {
		t = t.Add(-ChileOffset)
	}

	return t.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Semester 返回日期所在学期，如 2016A. 2-7 月为 A，其余为 B，1 月属于上一年的 B.
func Semester(t time.Time) string {
	year := t.Year()

	switch {
	case t.Month() >= time.February && t.Month() <= time.July:
		return strconv.Itoa(year) + "A"
	case t.Month() == time.January:
		return strconv.Itoa(year-1) + "B"
	default:
		return strconv.Itoa(year) + "B"
	}
}

// PreviousSemester 返回上一学期，格式不对时返回空串.
func PreviousSemester(semester string) string {
	m := semesterRe.FindStringSubmatch(semester)
	if m == nil {
		return ""
	}

	if m[2] == "B" {
		return m[1] + "A"
	}

	year, _ := strconv.Atoi(m[1])

	return strconv.Itoa(year-1) + "B"
}
