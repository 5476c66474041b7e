package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/recurrence"
)

func tod(h, m int) model.TimeOfDay {
	return model.NewTimeOfDay(h, m, 0)
}

func window(startH, startM, endH, endM int) model.Window {
	return model.Window{Start: tod(startH, startM), End: tod(endH, endM)}
}

func dailyJobs(t *testing.T, n int, at model.TimeOfDay) []*model.Job {
	t.Helper()
	jobs := make([]*model.Job, n)
	for i := range jobs {
		j, err := model.NewJob(fmt.Sprintf("job-%02d", i), "owner", &model.DailyRule{At: at, IntervalDays: 1})
		require.NoError(t, err)
		jobs[i] = j
	}
	return jobs
}

func applyToJobs(jobs []*model.Job, plan *model.RedistributionPlan) {
	byName := make(map[string]*model.Job)
	for _, j := range jobs {
		byName[j.Name] = j
	}
	for _, a := range plan.Assignments {
		byName[a.Job].Conditions[a.Condition] = a.Rule
	}
}

func newRedistributor() *Redistributor {
	return NewRedistributor(DefaultRedistributorConfig(), zap.NewNop())
}

func TestPlanSpreadsClusteredJobs(t *testing.T) {
	jobs := dailyJobs(t, 10, tod(12, 0))

	plan, err := newRedistributor().Plan(jobs, window(8, 0, 10, 0), 1)
	require.NoError(t, err)

	assert.Equal(t, 10, plan.Count)
	assert.Equal(t, 1, plan.Concurrency)
	assert.Equal(t, 10*time.Minute, plan.Interval)
	require.Len(t, plan.Assignments, 10)
	for i, a := range plan.Assignments {
		assert.Equal(t, fmt.Sprintf("job-%02d", i), a.Job)
		assert.Equal(t, tod(12, 0), a.From)
		assert.Equal(t, model.TimeOfDayFromOffset(8*time.Hour+time.Duration(i)*10*time.Minute), a.To)
		assert.Equal(t, a.To, a.Rule.(*model.DailyRule).At)
	}
	assert.Equal(t, tod(9, 30), plan.Assignments[9].To)

	// The input is never modified.
	assert.Equal(t, tod(12, 0), jobs[0].Conditions[0].(*model.DailyRule).At)
}

func TestPlanSkipsJobAlreadyOnItsSlot(t *testing.T) {
	// Ten jobs at 09:00 over 08:00-10:00: the seventh job's slot is 09:00,
	// so it is counted but not moved.
	jobs := dailyJobs(t, 10, tod(9, 0))

	plan, err := newRedistributor().Plan(jobs, window(8, 0, 10, 0), 1)
	require.NoError(t, err)

	assert.Equal(t, 10, plan.Count)
	assert.Equal(t, 10*time.Minute, plan.Interval)
	require.Len(t, plan.Assignments, 9)
	assert.NotContains(t, plan.Jobs(), "job-06")

	times := plan.TriggerTimes()
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("job-%02d", i)
		if i == 6 {
			continue
		}
		want := model.TimeOfDayFromOffset(8*time.Hour + time.Duration(i)*10*time.Minute)
		assert.Equal(t, []model.TimeOfDay{want}, times[name], name)
	}

	applyToJobs(jobs, plan)
	again, err := newRedistributor().Plan(jobs, window(8, 0, 10, 0), 1)
	require.NoError(t, err)
	assert.True(t, again.Empty())
}

func TestPlanOpensLanesAndWraps(t *testing.T) {
	jobs := dailyJobs(t, 10, tod(12, 0))

	plan, err := newRedistributor().Plan(jobs, window(8, 0, 9, 0), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, plan.Concurrency)
	assert.Equal(t, 10*time.Minute, plan.Interval)
	var got []model.TimeOfDay
	for _, a := range plan.Assignments {
		got = append(got, a.To)
	}
	assert.Equal(t, []model.TimeOfDay{
		tod(8, 0), tod(8, 10), tod(8, 20), tod(8, 30), tod(8, 40), tod(8, 50),
		tod(8, 0), tod(8, 10), tod(8, 20), tod(8, 30),
	}, got)
}

func TestPlanCapsConcurrency(t *testing.T) {
	jobs := dailyJobs(t, 30, tod(12, 0))

	plan, err := newRedistributor().Plan(jobs, window(8, 0, 9, 0), 4)
	require.NoError(t, err)

	// 60m / ceil(30/4) = 7.5m, snapped down to 5m.
	assert.Equal(t, 4, plan.Concurrency)
	assert.Equal(t, 5*time.Minute, plan.Interval)
	assert.Equal(t, tod(8, 55), plan.Assignments[11].To)
	assert.Equal(t, tod(8, 0), plan.Assignments[12].To)
}

func TestPlanSnapsBelowTable(t *testing.T) {
	jobs := dailyJobs(t, 100, tod(12, 0))

	plan, err := newRedistributor().Plan(jobs, window(8, 0, 9, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, plan.Interval)
}

func TestPlanEmptyAndInvalid(t *testing.T) {
	r := newRedistributor()

	once, err := model.NewJob("once", "o",
		&model.AtRule{At: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		&model.CompletionRule{Job: "other"})
	require.NoError(t, err)

	plan, err := r.Plan([]*model.Job{once}, window(8, 0, 10, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Count)
	assert.True(t, plan.Empty())

	_, err = r.Plan(nil, window(10, 0, 8, 0), 1)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = r.Plan(nil, window(8, 0, 8, 0), 1)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = r.Plan(nil, model.Window{Start: model.TimeOfDay{Hour: 25}, End: tod(8, 0)}, 1)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	plan, err = r.Plan(dailyJobs(t, 3, tod(12, 0)), window(8, 0, 10, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Concurrency)
}

func TestPlanLeavesNonPeriodicConditions(t *testing.T) {
	j, err := model.NewJob("mixed", "o",
		&model.AtRule{At: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		&model.CompletionRule{Job: "other"},
		&model.WeeklyRule{Days: []time.Weekday{time.Monday}, At: tod(12, 0)},
	)
	require.NoError(t, err)
	disabled := dailyJobs(t, 1, tod(12, 0))[0]
	disabled.Disabled = true

	plan, err := newRedistributor().Plan([]*model.Job{j, disabled}, window(8, 0, 10, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Count)
	require.Len(t, plan.Assignments, 1)
	assert.Equal(t, 2, plan.Assignments[0].Condition)
	assert.Equal(t, "mixed", plan.Assignments[0].Job)
}

func TestPlanIsIdempotent(t *testing.T) {
	jobs := dailyJobs(t, 10, tod(12, 0))
	r := newRedistributor()

	first, err := r.Plan(jobs, window(8, 0, 10, 0), 1)
	require.NoError(t, err)
	again, err := r.Plan(jobs, window(8, 0, 10, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, first.TriggerTimes(), again.TriggerTimes())

	applyToJobs(jobs, first)
	second, err := r.Plan(jobs, window(8, 0, 10, 0), 1)
	require.NoError(t, err)
	assert.True(t, second.Empty())
	assert.Equal(t, 10, second.Count)
}

func TestPlanDetachesTimeRange(t *testing.T) {
	j, err := model.NewJob("ranged", "o", &model.DailyRule{
		Timing:       model.Timing{TimeRange: &model.TimeRange{Name: "night", Start: tod(1, 0), End: tod(3, 0)}},
		At:           tod(2, 0),
		IntervalDays: 1,
	})
	require.NoError(t, err)

	plan, err := newRedistributor().Plan([]*model.Job{j}, window(8, 0, 10, 0), 1)
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 1)

	a := plan.Assignments[0]
	assert.Equal(t, tod(1, 0), a.From)
	updated := a.Rule.(*model.DailyRule)
	assert.Nil(t, updated.TimeRange)
	assert.Equal(t, tod(8, 0), updated.At)
	assert.NotNil(t, j.Conditions[0].(*model.DailyRule).TimeRange)
}

func TestPlanHourlyKeepsSpanAcrossMidnight(t *testing.T) {
	j, err := model.NewJob("hourly", "o", &model.HourlyRule{
		Days:  []time.Weekday{time.Monday},
		Start: tod(9, 0),
		End:   tod(11, 0),
	})
	require.NoError(t, err)

	plan, err := newRedistributor().Plan([]*model.Job{j}, window(23, 0, 23, 30), 1)
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 1)

	updated := plan.Assignments[0].Rule.(*model.HourlyRule)
	assert.Equal(t, tod(23, 0), updated.Start)
	assert.Equal(t, tod(1, 0), updated.End)
	assert.Equal(t, 2*time.Hour, updated.Span())

	// The window now runs from Monday 23:00 into Tuesday 01:00.
	got := recurrence.NewEvaluator(nil, time.UTC).Occurrences(updated, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
	}, got)
}

func TestRedistributorCustomTable(t *testing.T) {
	r := NewRedistributor(RedistributorConfig{
		IntervalTable:   []time.Duration{7 * time.Minute, 20 * time.Minute},
		MinLaneInterval: time.Minute,
	}, zap.NewNop())

	plan, err := r.Plan(dailyJobs(t, 4, tod(12, 0)), window(8, 0, 9, 0), 4)
	require.NoError(t, err)
	// 60m / 4 = 15m is already above the lane floor and snaps down to 7m.
	assert.Equal(t, 1, plan.Concurrency)
	assert.Equal(t, 7*time.Minute, plan.Interval)
}
