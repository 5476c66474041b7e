package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronExpression renders a fixed-time rule as a six-field cron expression.
// Rules with day or week intervals, last-day or Nth-weekday selectors and
// window-bound rules have no cron equivalent and report false.
func CronExpression(r Rule) (string, bool) {
	at, fixed := FixedTime(r)
	if !fixed {
		return "", false
	}
	prefix := fmt.Sprintf("%d %d %d", at.Second, at.Minute, at.Hour)

	var expr string
	switch v := r.(type) {
	case *DailyRule:
		if v.IntervalDays > 1 {
			return "", false
		}
		if v.WeekdayOnly {
			expr = prefix + " * * 1-5"
		} else {
			expr = prefix + " * * *"
		}
	case *WeeklyRule:
		if v.IntervalWeeks > 1 {
			return "", false
		}
		days := make([]string, 0, len(v.Weekdays()))
		for _, d := range v.Weekdays() {
			days = append(days, fmt.Sprint(int(d)))
		}
		expr = prefix + " * * " + strings.Join(days, ",")
	case *MonthlyRule:
		if v.DayOfMonth < 1 {
			return "", false
		}
		months := "*"
		if len(v.Months) > 0 {
			parts := make([]string, len(v.Months))
			for i, m := range v.Months {
				parts[i] = fmt.Sprint(int(m))
			}
			months = strings.Join(parts, ",")
		}
		expr = fmt.Sprintf("%s %d %s *", prefix, v.DayOfMonth, months)
	default:
		return "", false
	}

	if _, err := cronParser.Parse(expr); err != nil {
		return "", false
	}
	return expr, true
}

// CronSchedule parses the rule's cron form into a schedule evaluated in loc
func CronSchedule(r Rule, loc *time.Location) (cron.Schedule, error) {
	expr, ok := CronExpression(r)
	if !ok {
		return nil, fmt.Errorf("rule %q has no cron form", r.Label())
	}
	if loc == nil {
		loc = time.UTC
	}
	return cronParser.Parse("CRON_TZ=" + loc.String() + " " + expr)
}
