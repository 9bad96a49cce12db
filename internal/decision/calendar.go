package decision

import (
	"fmt"
	"time"
)

// DateLayout 业务日期格式
const DateLayout = "2006-01-02"

// Calendar 业务日历：周末与配置的节假日为非营业日
type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
}

// NewCalendar 创建业务日历
func NewCalendar(timezone string, holidays []string) (*Calendar, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	c := &Calendar{loc: loc, holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		if _, err := time.ParseInLocation(DateLayout, h, loc); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[h] = struct{}{}
	}
	return c, nil
}

// UTCCalendar 无节假日的 UTC 日历
func UTCCalendar() *Calendar {
	return &Calendar{loc: time.UTC, holidays: map[string]struct{}{}}
}

// BusinessDate 返回 t 所在的业务日期
func (c *Calendar) BusinessDate(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// IsBusinessDay 是否为营业日
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[local.Format(DateLayout)]
	return !holiday
}

// NextBusinessDay 返回 t 之后的第一个营业日零点（本地时区）
func (c *Calendar) NextBusinessDay(t time.Time) time.Time {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
	for !c.IsBusinessDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}
