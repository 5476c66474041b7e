package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/trigger-planner/internal/clock"
	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/monitor"
	"github.com/t77yq/trigger-planner/internal/storage"
)

const admin = "root"

type serviceFixture struct {
	service *Service
	store   *storage.MemoryJobStore
	audit   *monitor.LogAuditSink
	clock   *clock.Fake
}

// scriptedStore wraps a memory store with hooks for interleaving writes
type scriptedStore struct {
	*storage.MemoryJobStore
	onList     func()
	saveAllErr error
}

func (s *scriptedStore) List(ctx context.Context) ([]*model.Job, error) {
	jobs, err := s.MemoryJobStore.List(ctx)
	if hook := s.onList; hook != nil {
		s.onList = nil
		hook()
	}
	return jobs, err
}

func (s *scriptedStore) SaveAll(ctx context.Context, jobs []*model.Job) error {
	if s.saveAllErr != nil {
		return s.saveAllErr
	}
	return s.MemoryJobStore.SaveAll(ctx, jobs)
}

func newServiceFixture(t *testing.T, jobs ...*model.Job) *serviceFixture {
	t.Helper()
	store := storage.NewMemoryJobStore(jobs...)
	return newServiceFixtureOn(t, store, store)
}

// newServiceFixtureOn runs the service against backend while assertions read mem
func newServiceFixtureOn(t *testing.T, mem *storage.MemoryJobStore, backend JobStore) *serviceFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := mem
	audit := monitor.NewLogAuditSink(logger, 100)
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	perms := NewOwnerPolicy([]string{admin}, func(ctx context.Context, name string) (string, bool) {
		job, err := store.Get(ctx, name)
		if err != nil {
			return "", false
		}
		return job.Owner, true
	})
	cfg := ServiceConfig{
		Zone:          time.UTC,
		BucketMinutes: DefaultBucketMinutes,
		HistogramTTL:  DefaultHistogramTTL,
		Redistributor: DefaultRedistributorConfig(),
	}
	return &serviceFixture{
		service: NewService(backend, perms, audit, fake, cfg, logger),
		store:   store,
		audit:   audit,
		clock:   fake,
	}
}

func (f *serviceFixture) conditions(t *testing.T, name string) []model.Rule {
	t.Helper()
	job, err := f.store.Get(context.Background(), name)
	require.NoError(t, err)
	return job.Conditions
}

func (f *serviceFixture) actions() []model.AuditAction {
	var out []model.AuditAction
	for _, e := range f.audit.Events() {
		out = append(out, e.Action)
	}
	return out
}

func TestSetConditionsRejectsCycle(t *testing.T) {
	f := newServiceFixture(t, job(t, "A", "B"), job(t, "B", "C"), job(t, "C"))
	ctx := context.Background()
	before := f.conditions(t, "C")

	err := f.service.AddCondition(ctx, admin, "C", &model.CompletionRule{Job: "A"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircularDependency))

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "B", "C"}, cycle.Path)

	assert.Equal(t, len(before), len(f.conditions(t, "C")))
	assert.Equal(t, []model.AuditAction{model.AuditDependencyRejected}, f.actions())
}

func TestSetConditionsAcceptsDAG(t *testing.T) {
	f := newServiceFixture(t, job(t, "A"), job(t, "B"), job(t, "C"))
	ctx := context.Background()

	require.NoError(t, f.service.AddCondition(ctx, admin, "B", &model.CompletionRule{Job: "A"}))
	require.NoError(t, f.service.AddCondition(ctx, admin, "C", &model.CompletionRule{Job: "A"}))
	require.NoError(t, f.service.AddCondition(ctx, admin, "C", &model.CompletionRule{Job: "B"}))

	deps, err := f.service.CompletionDependents(ctx, "A")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "C"}, deps)

	events := f.audit.Events()
	require.Len(t, events, 3)
	assert.Equal(t, model.AuditConditionsChanged, events[0].Action)
	assert.Equal(t, admin, events[0].Principal)
	assert.Equal(t, "B", events[0].Job)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, f.clock.Now(), events[0].CreatedAt)
}

func TestConditionEdits(t *testing.T) {
	f := newServiceFixture(t, job(t, "A"))
	ctx := context.Background()

	weekly := &model.WeeklyRule{Days: []time.Weekday{time.Friday}, At: tod(18, 0)}
	require.NoError(t, f.service.AddCondition(ctx, admin, "A", weekly))
	require.Len(t, f.conditions(t, "A"), 2)

	daily := &model.DailyRule{At: tod(3, 0), IntervalDays: 2}
	require.NoError(t, f.service.UpdateCondition(ctx, admin, "A", 0, daily))
	conds := f.conditions(t, "A")
	assert.True(t, model.EqualRules(daily, conds[0]))
	assert.True(t, model.EqualRules(weekly, conds[1]))

	require.NoError(t, f.service.RemoveCondition(ctx, admin, "A", 0))
	conds = f.conditions(t, "A")
	require.Len(t, conds, 1)
	assert.True(t, model.EqualRules(weekly, conds[0]))

	assert.Error(t, f.service.RemoveCondition(ctx, admin, "A", 5))
	assert.Error(t, f.service.UpdateCondition(ctx, admin, "A", -1, daily))
	assert.Len(t, f.conditions(t, "A"), 1)

	job, err := f.store.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), job.UpdatedAt)
}

func TestSetConditionsInvalidRule(t *testing.T) {
	f := newServiceFixture(t, job(t, "A"))
	ctx := context.Background()

	err := f.service.SetConditions(ctx, admin, "A", []model.Rule{&model.DailyRule{At: tod(1, 0)}})
	assert.ErrorIs(t, err, model.ErrInvalidRule)
	require.Len(t, f.conditions(t, "A"), 1)
	assert.Empty(t, f.audit.Events())

	err = f.service.SetConditions(ctx, admin, "missing", nil)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestServicePermissions(t *testing.T) {
	f := newServiceFixture(t, job(t, "A"))
	ctx := context.Background()
	rule := &model.DailyRule{At: tod(5, 0), IntervalDays: 1}

	assert.NoError(t, f.service.AddCondition(ctx, "owner", "A", rule))
	assert.ErrorIs(t, f.service.AddCondition(ctx, "mallory", "A", rule), ErrPermissionDenied)
	assert.ErrorIs(t, f.service.AddCondition(ctx, "", "A", rule), ErrPermissionDenied)

	_, err := f.service.Histogram(ctx, "viewer", model.WeekScope())
	assert.NoError(t, err)
	_, err = f.service.Histogram(ctx, "", model.WeekScope())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.service.Rebalance(ctx, "owner", window(0, 0, 1, 0), 1)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestHistogramCache(t *testing.T) {
	jobs := dailyJobs(t, 3, tod(9, 0))
	f := newServiceFixture(t, jobs...)
	ctx := context.Background()

	total := func() int {
		buckets, err := f.service.Histogram(ctx, admin, model.WeekScope())
		require.NoError(t, err)
		return buckets[time.Monday].HardCount
	}
	assert.Equal(t, 3, total())

	extra := dailyJobs(t, 4, tod(9, 0))[3]
	require.NoError(t, f.store.Save(ctx, extra))
	assert.Equal(t, 3, total(), "served from cache")

	f.clock.Advance(DefaultHistogramTTL)
	assert.Equal(t, 4, total(), "expired")

	require.NoError(t, f.service.RemoveCondition(ctx, admin, "job-00", 0))
	assert.Equal(t, 3, total(), "writes invalidate")
}

func TestRebalance(t *testing.T) {
	f := newServiceFixture(t, dailyJobs(t, 6, tod(12, 0))...)
	ctx := context.Background()

	plan, err := f.service.Rebalance(ctx, admin, window(1, 0, 2, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, 6, plan.Count)
	assert.Equal(t, 10*time.Minute, plan.Interval)
	require.Len(t, plan.Assignments, 6)

	for i, name := range []string{"job-00", "job-01", "job-02", "job-03", "job-04", "job-05"} {
		at, ok := model.FixedTime(f.conditions(t, name)[0])
		require.True(t, ok)
		assert.Equal(t, tod(1, 10*i), at, name)
	}

	next, idx, ok, err := f.service.NextFireTime(ctx, "job-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 10, 0, 0, time.UTC), next)

	again, err := f.service.Rebalance(ctx, admin, window(1, 0, 2, 0), 1)
	require.NoError(t, err)
	assert.True(t, again.Empty())

	applied := 0
	for _, e := range f.audit.Events() {
		if e.Action == model.AuditRebalanceApplied {
			applied++
		}
	}
	assert.Equal(t, 6, applied)
}

func TestRebalanceInvalidWindow(t *testing.T) {
	f := newServiceFixture(t, dailyJobs(t, 2, tod(12, 0))...)
	ctx := context.Background()

	_, err := f.service.Rebalance(ctx, admin, window(5, 0, 5, 0), 1)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = f.service.Rebalance(ctx, admin, window(23, 0, 1, 0), 1)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	at, _ := model.FixedTime(f.conditions(t, "job-00")[0])
	assert.Equal(t, tod(12, 0), at)
	assert.Empty(t, f.audit.Events())
}

func TestApplyPlanConflict(t *testing.T) {
	f := newServiceFixture(t, dailyJobs(t, 3, tod(12, 0))...)
	ctx := context.Background()

	plan, err := f.service.PlanRebalance(ctx, window(1, 0, 2, 0), 1)
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 3)
	assert.Equal(t, 15*time.Minute, plan.Interval)

	moved := &model.DailyRule{At: tod(15, 0), IntervalDays: 1}
	require.NoError(t, f.service.UpdateCondition(ctx, admin, "job-01", 0, moved))

	err = f.service.ApplyPlan(ctx, admin, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanConflict)

	at, _ := model.FixedTime(f.conditions(t, "job-00")[0])
	assert.Equal(t, tod(1, 0), at)
	at, _ = model.FixedTime(f.conditions(t, "job-01")[0])
	assert.Equal(t, tod(15, 0), at)
	at, _ = model.FixedTime(f.conditions(t, "job-02")[0])
	assert.Equal(t, tod(1, 30), at)
}

func TestDueJobs(t *testing.T) {
	early, err := model.NewJob("early", "o", &model.DailyRule{At: tod(1, 0), IntervalDays: 1})
	require.NoError(t, err)
	late, err := model.NewJob("late", "o", &model.DailyRule{At: tod(5, 0), IntervalDays: 1})
	require.NoError(t, err)
	off, err := model.NewJob("off", "o", &model.DailyRule{At: tod(1, 0), IntervalDays: 1})
	require.NoError(t, err)
	off.Disabled = true

	f := newServiceFixture(t, early, late, off)
	since := f.clock.Now()
	f.clock.Advance(2 * time.Hour)

	due, err := f.service.DueJobs(context.Background(), since, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, due)

	// The window end is the caller's, not a later clock reading.
	f.clock.Advance(4 * time.Hour)
	due, err = f.service.DueJobs(context.Background(), since, since.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, due)

	_, _, _, err = f.service.NextFireTime(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestCheckCycle(t *testing.T) {
	f := newServiceFixture(t, job(t, "A", "B"), job(t, "B"))
	cycle, err := f.service.CheckCycle(context.Background(), Edge{From: "B", To: "A"})
	require.NoError(t, err)
	assert.True(t, cycle)
	cycle, err = f.service.CheckCycle(context.Background(), Edge{From: "A", To: "B"})
	require.NoError(t, err)
	assert.False(t, cycle)
}

func TestConcurrentOppositeEdges(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newServiceFixture(t, job(t, "A"), job(t, "B"))
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = f.service.AddCondition(ctx, admin, "A", &model.CompletionRule{Job: "B"})
		}()
		go func() {
			defer wg.Done()
			errs[1] = f.service.AddCondition(ctx, admin, "B", &model.CompletionRule{Job: "A"})
		}()
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ErrCircularDependency)
				failed++
			}
		}
		require.Equal(t, 1, failed)

		jobs, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.Nil(t, NewDependencyGraph(jobs).FindCycle())
	}
}

func TestHistogramCacheDropsResultOfRacingWrite(t *testing.T) {
	mem := storage.NewMemoryJobStore(dailyJobs(t, 1, tod(9, 0))...)
	store := &scriptedStore{MemoryJobStore: mem}
	f := newServiceFixtureOn(t, mem, store)
	ctx := context.Background()

	// The write lands after the histogram listed the jobs.
	store.onList = func() {
		require.NoError(t, f.service.SetConditions(ctx, admin, "job-00", []model.Rule{
			&model.DailyRule{At: tod(9, 0), IntervalDays: 1},
			&model.DailyRule{At: tod(10, 0), IntervalDays: 1},
		}))
	}

	first, err := f.service.Histogram(ctx, admin, model.WeekScope())
	require.NoError(t, err)
	assert.Equal(t, 1, first[time.Monday].Total())

	second, err := f.service.Histogram(ctx, admin, model.WeekScope())
	require.NoError(t, err)
	assert.Equal(t, 2, second[time.Monday].Total())
}

func TestHistogramResultIsACopy(t *testing.T) {
	f := newServiceFixture(t, dailyJobs(t, 2, tod(9, 0))...)
	ctx := context.Background()

	buckets, err := f.service.Histogram(ctx, admin, model.WeekScope())
	require.NoError(t, err)
	buckets[time.Monday].HardCount = 99
	buckets[time.Monday].Children[9].HardCount = 99

	again, err := f.service.Histogram(ctx, admin, model.WeekScope())
	require.NoError(t, err)
	assert.Equal(t, 2, again[time.Monday].HardCount)
	assert.Equal(t, 2, again[time.Monday].Children[9].HardCount)
}

func TestImportJobs(t *testing.T) {
	f := newServiceFixture(t, job(t, "A"))
	ctx := context.Background()

	replacement := job(t, "A", "B")
	require.NoError(t, f.service.ImportJobs(ctx, admin, []*model.Job{job(t, "B"), replacement}))

	jobs, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"B"}, jobs[0].Dependencies())
	assert.Equal(t, f.clock.Now(), jobs[1].UpdatedAt)

	assert.Equal(t, []model.AuditAction{model.AuditJobImported, model.AuditJobImported}, f.actions())
}

func TestImportJobsRejectsCycle(t *testing.T) {
	f := newServiceFixture(t, job(t, "A", "B"), job(t, "B"))
	ctx := context.Background()

	err := f.service.ImportJobs(ctx, admin, []*model.Job{job(t, "C"), job(t, "B", "A")})
	assert.ErrorIs(t, err, ErrCircularDependency)

	_, err = f.store.Get(ctx, "C")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
	assert.Empty(t, f.conditions(t, "B")[1:])
	assert.Equal(t, []model.AuditAction{model.AuditDependencyRejected}, f.actions())
}

func TestImportJobsPermissions(t *testing.T) {
	f := newServiceFixture(t, job(t, "A"))
	ctx := context.Background()

	// Owners may replace their jobs; creating jobs needs an admin.
	assert.NoError(t, f.service.ImportJobs(ctx, "owner", []*model.Job{job(t, "A")}))
	err := f.service.ImportJobs(ctx, "owner", []*model.Job{job(t, "A"), job(t, "new")})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.store.Get(ctx, "new")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestImportJobsStoreFailure(t *testing.T) {
	mem := storage.NewMemoryJobStore(job(t, "A"))
	store := &scriptedStore{MemoryJobStore: mem, saveAllErr: errors.New("disk full")}
	f := newServiceFixtureOn(t, mem, store)
	ctx := context.Background()

	err := f.service.ImportJobs(ctx, admin, []*model.Job{job(t, "B"), job(t, "C")})
	require.Error(t, err)

	jobs, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Empty(t, f.audit.Events())
}
