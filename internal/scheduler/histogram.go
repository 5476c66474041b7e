package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/clock"
	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/recurrence"
)

// HistogramBuilder aggregates trigger load by weekday, hour and sub-hour slot
type HistogramBuilder struct {
	logger        *zap.Logger
	clock         clock.Clock
	zone          *time.Location
	bucketMinutes int
}

// NewHistogramBuilder creates a builder. bucketMinutes must divide an hour;
// other values fall back to DefaultBucketMinutes.
func NewHistogramBuilder(logger *zap.Logger, c clock.Clock, zone *time.Location, bucketMinutes int) *HistogramBuilder {
	if bucketMinutes <= 0 || minutesPerHour%bucketMinutes != 0 {
		bucketMinutes = DefaultBucketMinutes
	}
	if c == nil {
		c = clock.Real()
	}
	if zone == nil {
		zone = time.UTC
	}
	return &HistogramBuilder{
		logger:        logger.Named("histogram"),
		clock:         c,
		zone:          zone,
		bucketMinutes: bucketMinutes,
	}
}

// placement is where one rule lands in a week: its weekdays and the seconds
// of the day it is active between, inclusive.
type placement struct {
	days  [daysPerWeek]bool
	start int
	end   int
	hard  bool
}

func (p placement) hits(lo, hi int) bool {
	if p.hard {
		return p.start >= lo && p.start < hi
	}
	return p.start < hi && p.end >= lo
}

// Build computes the histogram for scope. Buckets carry children down to the
// finest level. Disabled jobs and non-periodic rules are not counted; rules
// that cannot be classified are logged and skipped.
func (b *HistogramBuilder) Build(jobs []*model.Job, scope model.Scope) ([]model.HistogramBucket, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	snapshot := make([]*model.Job, 0, len(jobs))
	for _, job := range jobs {
		snapshot = append(snapshot, job.Clone())
	}

	var placements []placement
	for _, job := range snapshot {
		if job.Disabled {
			continue
		}
		for i, cond := range job.Conditions {
			if !model.IsPeriodic(cond) {
				continue
			}
			p, ok := b.classify(cond)
			if !ok {
				b.logger.Warn("Skipping unclassifiable rule",
					zap.String("job", job.Name),
					zap.Int("condition", i),
					zap.String("kind", string(cond.Kind())))
				continue
			}
			placements = append(placements, p)
		}
	}

	switch scope.Level {
	case model.ScopeDay:
		return b.dayBuckets(placements, scope.Weekday), nil
	case model.ScopeHour:
		return b.hourBuckets(placements, scope.Weekday, scope.Hour), nil
	default:
		return b.weekBuckets(placements), nil
	}
}

func (b *HistogramBuilder) weekBuckets(placements []placement) []model.HistogramBucket {
	buckets := make([]model.HistogramBucket, daysPerWeek)
	for d := 0; d < daysPerWeek; d++ {
		bucket := model.HistogramBucket{Index: d}
		for _, p := range placements {
			if !p.days[d] {
				continue
			}
			if p.hard {
				bucket.HardCount++
			} else {
				bucket.SoftCount++
			}
		}
		bucket.Children = b.dayBuckets(placements, time.Weekday(d))
		buckets[d] = bucket
	}
	return buckets
}

func (b *HistogramBuilder) dayBuckets(placements []placement, day time.Weekday) []model.HistogramBucket {
	buckets := make([]model.HistogramBucket, hoursPerDay)
	for h := 0; h < hoursPerDay; h++ {
		buckets[h] = countSlot(placements, day, h, h*3600, (h+1)*3600)
		buckets[h].Children = b.hourBuckets(placements, day, h)
	}
	return buckets
}

func (b *HistogramBuilder) hourBuckets(placements []placement, day time.Weekday, hour int) []model.HistogramBucket {
	n := minutesPerHour / b.bucketMinutes
	width := b.bucketMinutes * 60
	buckets := make([]model.HistogramBucket, n)
	for k := 0; k < n; k++ {
		lo := hour*3600 + k*width
		buckets[k] = countSlot(placements, day, k, lo, lo+width)
	}
	return buckets
}

func countSlot(placements []placement, day time.Weekday, index, lo, hi int) model.HistogramBucket {
	bucket := model.HistogramBucket{Index: index}
	for _, p := range placements {
		if !p.days[day] || !p.hits(lo, hi) {
			continue
		}
		if p.hard {
			bucket.HardCount++
		} else {
			bucket.SoftCount++
		}
	}
	return bucket
}

// classify places a periodic rule in the week. Windows crossing midnight are
// clipped to the end of their start day.
func (b *HistogramBuilder) classify(r model.Rule) (placement, bool) {
	if err := r.Validate(); err != nil {
		return placement{}, false
	}

	var p placement
	switch v := r.(type) {
	case *model.HourlyRule:
		if len(v.Days) == 0 {
			p.days = allDays()
		}
		for _, d := range v.Days {
			p.days[d] = true
		}
	case *model.DailyRule:
		p.days = allDays()
		if v.WeekdayOnly {
			p.days[time.Saturday], p.days[time.Sunday] = false, false
		}
	case *model.WeeklyRule:
		for _, d := range v.Weekdays() {
			p.days[d] = true
		}
	case *model.MonthlyRule:
		if v.WeekOfMonth > 0 {
			p.days[v.Weekday] = true
			break
		}
		// A day-of-month rule moves across weekdays; place it on its next occurrence.
		next, ok := recurrence.NextFireTime(v, b.clock.Now(), b.zone)
		if !ok {
			return placement{}, false
		}
		p.days[next.In(v.Location(b.zone)).Weekday()] = true
	default:
		return placement{}, false
	}

	start, end, ok := model.ActiveWindow(r)
	if !ok {
		return placement{}, false
	}
	_, p.hard = model.FixedTime(r)
	p.start = int(start.Offset() / time.Second)
	p.end = int(end.Offset() / time.Second)
	if p.end < p.start {
		p.end = hoursPerDay*3600 - 1
	}
	return p, true
}

func allDays() [daysPerWeek]bool {
	var days [daysPerWeek]bool
	for i := range days {
		days[i] = true
	}
	return days
}
