package scheduler

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/model"
)

// RedistributorConfig tunes how trigger times are spread
type RedistributorConfig struct {
	// IntervalTable lists the lane intervals a computed interval snaps down to.
	IntervalTable []time.Duration
	// MinLaneInterval is the spacing below which another lane is opened.
	MinLaneInterval time.Duration
}

// DefaultRedistributorConfig returns the stock interval table and lane floor
func DefaultRedistributorConfig() RedistributorConfig {
	return RedistributorConfig{
		IntervalTable:   append([]time.Duration(nil), DefaultIntervalTable...),
		MinLaneInterval: DefaultMinLaneInterval,
	}
}

// Redistributor spreads clustered periodic triggers across a window
type Redistributor struct {
	logger  *zap.Logger
	table   []time.Duration
	minLane time.Duration
}

// NewRedistributor creates a redistributor; zero config fields take defaults
func NewRedistributor(cfg RedistributorConfig, logger *zap.Logger) *Redistributor {
	table := append([]time.Duration(nil), cfg.IntervalTable...)
	if len(table) == 0 {
		table = append(table, DefaultIntervalTable...)
	}
	sort.Slice(table, func(i, j int) bool { return table[i] > table[j] })

	minLane := cfg.MinLaneInterval
	if minLane <= 0 {
		minLane = DefaultMinLaneInterval
	}

	return &Redistributor{
		logger:  logger.Named("redistributor"),
		table:   table,
		minLane: minLane,
	}
}

// slot is one periodic condition awaiting a trigger time
type slot struct {
	job       string
	condition int
	rule      model.Rule
}

// Plan assigns new trigger times to every periodic condition of the enabled
// jobs, walking them in input order. The result only lists conditions whose
// trigger time actually changes, so planning an already balanced set yields
// an empty plan. Planning has no side effects.
func (r *Redistributor) Plan(jobs []*model.Job, window model.Window, maxConcurrency int) (*model.RedistributionPlan, error) {
	if !window.Start.Valid() || !window.End.Valid() {
		return nil, fmt.Errorf("%w: bounds out of range", ErrInvalidWindow)
	}
	duration := window.Duration()
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s-%s is empty or wraps midnight", ErrInvalidWindow, window.Start, window.End)
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	var slots []slot
	for _, job := range jobs {
		if job.Disabled {
			continue
		}
		for i, cond := range job.Conditions {
			if model.IsPeriodic(cond) {
				slots = append(slots, slot{job: job.Name, condition: i, rule: cond})
			}
		}
	}

	plan := &model.RedistributionPlan{Window: window, Count: len(slots)}
	if len(slots) == 0 {
		return plan, nil
	}

	plan.Concurrency = r.concurrency(len(slots), duration, maxConcurrency)
	plan.Interval = r.snap(duration / time.Duration(ceilDiv(len(slots), plan.Concurrency)))

	start, end := window.Start.Offset(), window.End.Offset()
	cursor := start
	for _, s := range slots {
		if cursor >= end {
			cursor = start
		}
		target := model.TimeOfDayFromOffset(cursor)
		cursor += plan.Interval

		from, updated, changed := retime(s.rule, target)
		if !changed {
			continue
		}
		plan.Assignments = append(plan.Assignments, model.Assignment{
			Job:       s.job,
			Condition: s.condition,
			Previous:  s.rule,
			Rule:      updated,
			From:      from,
			To:        target,
		})
	}

	r.logger.Info("Computed redistribution plan",
		zap.String("window_start", window.Start.String()),
		zap.String("window_end", window.End.String()),
		zap.Int("count", plan.Count),
		zap.Int("concurrency", plan.Concurrency),
		zap.Duration("interval", plan.Interval),
		zap.Int("assignments", len(plan.Assignments)))

	return plan, nil
}

// concurrency opens lanes until each lane's spacing reaches the floor
func (r *Redistributor) concurrency(count int, duration time.Duration, maxConcurrency int) int {
	lanes := 1
	for lanes < maxConcurrency && duration/time.Duration(ceilDiv(count, lanes)) < r.minLane {
		lanes++
	}
	return lanes
}

// snap floors interval to the table, never rounding up. Intervals below the
// smallest entry use that entry.
func (r *Redistributor) snap(interval time.Duration) time.Duration {
	for _, v := range r.table {
		if v <= interval {
			return v
		}
	}
	return r.table[len(r.table)-1]
}

// retime returns a copy of rule firing at target. The rule's own time fields
// become authoritative, so an attached time range is detached. Hourly rules
// keep their window length; an end past midnight lands on the following day.
func retime(rule model.Rule, target model.TimeOfDay) (model.TimeOfDay, model.Rule, bool) {
	switch v := rule.(type) {
	case *model.HourlyRule:
		from := v.Start
		if v.TimeRange != nil {
			from = v.TimeRange.Start
		}
		end, _ := target.Add(v.Span())
		if v.TimeRange == nil && v.Start == target && v.End == end {
			return from, rule, false
		}
		updated := v.Clone().(*model.HourlyRule)
		updated.TimeRange = nil
		updated.Start, updated.End = target, end
		return from, updated, true
	case *model.DailyRule:
		updated := v.Clone().(*model.DailyRule)
		return retimeFixed(v.Timing, v.At, target, &updated.Timing, &updated.At, updated)
	case *model.WeeklyRule:
		updated := v.Clone().(*model.WeeklyRule)
		return retimeFixed(v.Timing, v.At, target, &updated.Timing, &updated.At, updated)
	case *model.MonthlyRule:
		updated := v.Clone().(*model.MonthlyRule)
		return retimeFixed(v.Timing, v.At, target, &updated.Timing, &updated.At, updated)
	default:
		return model.TimeOfDay{}, rule, false
	}
}

func retimeFixed(timing model.Timing, at, target model.TimeOfDay, newTiming *model.Timing, newAt *model.TimeOfDay, updated model.Rule) (model.TimeOfDay, model.Rule, bool) {
	from := at
	if timing.TimeRange != nil {
		from = timing.TimeRange.Start
	}
	if timing.TimeRange == nil && at == target {
		return from, updated, false
	}
	newTiming.TimeRange = nil
	*newAt = target
	return from, updated, true
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
