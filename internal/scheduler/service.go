package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/cache"
	"github.com/t77yq/trigger-planner/internal/clock"
	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/recurrence"
)

// ServiceConfig configures the scheduler service
type ServiceConfig struct {
	Zone          *time.Location
	BucketMinutes int
	HistogramTTL  time.Duration
	Redistributor RedistributorConfig
}

// Service coordinates reads and writes of job trigger conditions. Writes to
// one job are serialized by a per-job lock. Condition edits also hold a
// global lock so two edits cannot close a dependency cycle together.
type Service struct {
	logger        *zap.Logger
	store         JobStore
	perms         PermissionChecker
	audit         AuditSink
	clock         clock.Clock
	loc           *time.Location
	evaluator     *recurrence.Evaluator
	histograms    *HistogramBuilder
	redistributor *Redistributor
	loadCache     *cache.TTLCache[model.Scope, []model.HistogramBucket]

	depMu   sync.Mutex
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a scheduler service. perms and audit may be nil.
func NewService(store JobStore, perms PermissionChecker, audit AuditSink, c clock.Clock, cfg ServiceConfig, logger *zap.Logger) *Service {
	if c == nil {
		c = clock.Real()
	}
	if perms == nil {
		perms = AllowAll{}
	}
	return &Service{
		logger:        logger.Named("scheduler"),
		store:         store,
		perms:         perms,
		audit:         audit,
		clock:         c,
		loc:           cfg.Zone,
		evaluator:     recurrence.NewEvaluator(c, cfg.Zone),
		histograms:    NewHistogramBuilder(logger, c, cfg.Zone, cfg.BucketMinutes),
		redistributor: NewRedistributor(cfg.Redistributor, logger),
		loadCache:     cache.New[model.Scope, []model.HistogramBucket](cfg.HistogramTTL, c),
		locks:         make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockJob(name string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[name] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// NextFireTime returns when the named job is next due and which condition fires
func (s *Service) NextFireTime(ctx context.Context, name string) (time.Time, int, bool, error) {
	job, err := s.store.Get(ctx, name)
	if err != nil {
		return time.Time{}, -1, false, err
	}
	next, idx, ok := s.evaluator.JobNextFireTime(job, s.clock.Now())
	return next, idx, ok, nil
}

// DueJobs returns the enabled jobs with a condition firing in (since, until]
func (s *Service) DueJobs(ctx context.Context, since, until time.Time) ([]string, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var due []string
	for _, job := range jobs {
		if s.evaluator.Due(job, since, until) {
			due = append(due, job.Name)
		}
	}
	return due, nil
}

// CheckCycle reports whether adding edge to the stored jobs closes a cycle
func (s *Service) CheckCycle(ctx context.Context, edge Edge) (bool, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list jobs: %w", err)
	}
	return WouldCreateCycle(jobs, edge), nil
}

// CompletionDependents returns the jobs that fire when name completes
func (s *Service) CompletionDependents(ctx context.Context, name string) ([]string, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return NewDependencyGraph(jobs).Dependents(name), nil
}

// SetConditions replaces a job's condition list. The write is all or nothing:
// an invalid rule or a would-be cycle leaves the stored job untouched.
func (s *Service) SetConditions(ctx context.Context, principal, name string, conditions []model.Rule) error {
	return s.updateConditions(ctx, principal, name, func([]model.Rule) ([]model.Rule, error) {
		return conditions, nil
	})
}

// AddCondition appends one condition to a job
func (s *Service) AddCondition(ctx context.Context, principal, name string, rule model.Rule) error {
	return s.updateConditions(ctx, principal, name, func(current []model.Rule) ([]model.Rule, error) {
		return append(current, rule), nil
	})
}

// UpdateCondition replaces the condition at index
func (s *Service) UpdateCondition(ctx context.Context, principal, name string, index int, rule model.Rule) error {
	return s.updateConditions(ctx, principal, name, func(current []model.Rule) ([]model.Rule, error) {
		if index < 0 || index >= len(current) {
			return nil, fmt.Errorf("job %s has no condition %d", name, index)
		}
		current[index] = rule
		return current, nil
	})
}

// RemoveCondition deletes the condition at index
func (s *Service) RemoveCondition(ctx context.Context, principal, name string, index int) error {
	return s.updateConditions(ctx, principal, name, func(current []model.Rule) ([]model.Rule, error) {
		if index < 0 || index >= len(current) {
			return nil, fmt.Errorf("job %s has no condition %d", name, index)
		}
		return append(current[:index], current[index+1:]...), nil
	})
}

func (s *Service) updateConditions(ctx context.Context, principal, name string, edit func([]model.Rule) ([]model.Rule, error)) error {
	if !s.perms.Allowed(ctx, jobResource(name), actionEditJob, principal) {
		return fmt.Errorf("%w: %s may not edit job %s", ErrPermissionDenied, principal, name)
	}

	// The dependency lock is taken before the job lock on every path.
	s.depMu.Lock()
	defer s.depMu.Unlock()
	unlock := s.lockJob(name)
	defer unlock()

	job, err := s.store.Get(ctx, name)
	if err != nil {
		return err
	}
	updated := job.Clone()

	conditions, err := edit(updated.Conditions)
	if err != nil {
		return err
	}
	updated.Conditions = conditions
	if err := updated.Validate(); err != nil {
		return err
	}

	if deps := updated.Dependencies(); len(deps) > 0 {
		jobs, err := s.store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if err := NewDependencyGraph(jobs).CheckReplacement(name, deps); err != nil {
			s.logger.Warn("Rejected dependency edit",
				zap.String("job", name),
				zap.String("principal", principal),
				zap.Error(err))
			s.record(ctx, model.AuditDependencyRejected, principal, name, err.Error(), nil)
			return err
		}
	}

	updated.UpdatedAt = s.clock.Now()
	if err := s.store.Save(ctx, updated); err != nil {
		return fmt.Errorf("failed to save job %s: %w", name, err)
	}
	s.loadCache.Invalidate()

	s.logger.Info("Updated job conditions",
		zap.String("job", name),
		zap.String("principal", principal),
		zap.Int("conditions", len(updated.Conditions)))
	s.record(ctx, model.AuditConditionsChanged, principal, name, "conditions updated", map[string]interface{}{
		"conditions": len(updated.Conditions),
	})
	return nil
}

// ImportJobs creates or replaces jobs in one write. The principal needs edit
// rights on every job, and the stored jobs merged with the imported ones
// must stay acyclic; otherwise nothing is written.
func (s *Service) ImportJobs(ctx context.Context, principal string, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	for _, job := range jobs {
		if !s.perms.Allowed(ctx, jobResource(job.Name), actionEditJob, principal) {
			return fmt.Errorf("%w: %s may not edit job %s", ErrPermissionDenied, principal, job.Name)
		}
		if err := job.Validate(); err != nil {
			return err
		}
	}

	s.depMu.Lock()
	defer s.depMu.Unlock()

	names := make([]string, 0, len(jobs))
	imported := make(map[string]*model.Job, len(jobs))
	for _, job := range jobs {
		if _, ok := imported[job.Name]; !ok {
			names = append(names, job.Name)
		}
		imported[job.Name] = job.Clone()
	}
	sort.Strings(names)
	for _, name := range names {
		unlock := s.lockJob(name)
		defer unlock()
	}

	stored, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	merged := make([]*model.Job, 0, len(stored)+len(imported))
	for _, job := range stored {
		if _, replaced := imported[job.Name]; !replaced {
			merged = append(merged, job)
		}
	}
	batch := make([]*model.Job, 0, len(names))
	now := s.clock.Now()
	for _, name := range names {
		job := imported[name]
		job.UpdatedAt = now
		batch = append(batch, job)
		merged = append(merged, job)
	}

	if cycle := NewDependencyGraph(merged).FindCycle(); cycle != nil {
		err := fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(cycle, " -> "))
		s.logger.Warn("Rejected job import",
			zap.String("principal", principal),
			zap.Error(err))
		s.record(ctx, model.AuditDependencyRejected, principal, cycle[0], err.Error(), nil)
		return err
	}

	if err := s.store.SaveAll(ctx, batch); err != nil {
		return fmt.Errorf("failed to import jobs: %w", err)
	}
	s.loadCache.Invalidate()

	s.logger.Info("Imported jobs",
		zap.String("principal", principal),
		zap.Int("count", len(batch)))
	for _, job := range batch {
		s.record(ctx, model.AuditJobImported, principal, job.Name, "job imported", map[string]interface{}{
			"conditions": len(job.Conditions),
		})
	}
	return nil
}

// Histogram returns the trigger load for scope, served from cache while fresh
func (s *Service) Histogram(ctx context.Context, principal string, scope model.Scope) ([]model.HistogramBucket, error) {
	if !s.perms.Allowed(ctx, auditResource, actionViewLoad, principal) {
		return nil, fmt.Errorf("%w: %s may not view load", ErrPermissionDenied, principal)
	}
	if buckets, ok := s.loadCache.Get(scope); ok {
		return cloneBuckets(buckets), nil
	}

	// A write landing between List and the cache fill bumps the generation.
	gen := s.loadCache.Generation()
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	buckets, err := s.histograms.Build(jobs, scope)
	if err != nil {
		return nil, err
	}
	s.loadCache.SetIfGeneration(scope, buckets, gen)
	return cloneBuckets(buckets), nil
}

func cloneBuckets(buckets []model.HistogramBucket) []model.HistogramBucket {
	if buckets == nil {
		return nil
	}
	out := make([]model.HistogramBucket, len(buckets))
	for i, b := range buckets {
		out[i] = b
		out[i].Children = cloneBuckets(b.Children)
	}
	return out
}

// PlanRebalance computes a redistribution plan without writing anything
func (s *Service) PlanRebalance(ctx context.Context, window model.Window, maxConcurrency int) (*model.RedistributionPlan, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return s.redistributor.Plan(jobs, window, maxConcurrency)
}

// Clock returns the service clock
func (s *Service) Clock() clock.Clock {
	return s.clock
}

func (s *Service) zone() *time.Location {
	return s.loc
}

// Rebalance plans and applies a redistribution. An invalid window fails
// before any job is touched.
func (s *Service) Rebalance(ctx context.Context, principal string, window model.Window, maxConcurrency int) (*model.RedistributionPlan, error) {
	if !s.perms.Allowed(ctx, auditResource, actionRebalance, principal) {
		return nil, fmt.Errorf("%w: %s may not rebalance", ErrPermissionDenied, principal)
	}
	plan, err := s.PlanRebalance(ctx, window, maxConcurrency)
	if err != nil {
		return nil, err
	}
	if err := s.ApplyPlan(ctx, principal, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// ApplyPlan writes a plan back job by job. Each job is updated all or
// nothing; a job whose planned conditions changed since planning is skipped
// with ErrPlanConflict while the other jobs are still applied.
func (s *Service) ApplyPlan(ctx context.Context, principal string, plan *model.RedistributionPlan) error {
	if plan.Empty() {
		return nil
	}

	byJob := plan.ByJob()
	var errs []error
	applied := 0
	for _, name := range plan.Jobs() {
		if err := s.applyJob(ctx, principal, name, byJob[name]); err != nil {
			s.logger.Error("Failed to apply plan to job",
				zap.String("job", name),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		applied++
	}
	s.loadCache.Invalidate()

	s.logger.Info("Applied redistribution plan",
		zap.String("principal", principal),
		zap.Int("jobs", applied),
		zap.Int("failed", len(errs)),
		zap.Duration("interval", plan.Interval),
		zap.Int("concurrency", plan.Concurrency))
	return errors.Join(errs...)
}

func (s *Service) applyJob(ctx context.Context, principal, name string, assignments []model.Assignment) error {
	unlock := s.lockJob(name)
	defer unlock()

	job, err := s.store.Get(ctx, name)
	if err != nil {
		return err
	}
	updated := job.Clone()
	for _, a := range assignments {
		if a.Condition >= len(updated.Conditions) || !model.EqualRules(updated.Conditions[a.Condition], a.Previous) {
			return fmt.Errorf("%w: job %s condition %d", ErrPlanConflict, name, a.Condition)
		}
		updated.Conditions[a.Condition] = a.Rule.Clone()
	}

	updated.UpdatedAt = s.clock.Now()
	if err := s.store.Save(ctx, updated); err != nil {
		return fmt.Errorf("failed to save job %s: %w", name, err)
	}

	moves := make([]string, len(assignments))
	for i, a := range assignments {
		moves[i] = fmt.Sprintf("%d:%s->%s", a.Condition, a.From, a.To)
	}
	s.record(ctx, model.AuditRebalanceApplied, principal, name, "trigger times redistributed", map[string]interface{}{
		"moves": moves,
	})
	return nil
}

func (s *Service) record(ctx context.Context, action model.AuditAction, principal, job, message string, data map[string]interface{}) {
	if s.audit == nil {
		return
	}
	event := &model.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		Principal: principal,
		Job:       job,
		Message:   message,
		Data:      data,
		CreatedAt: s.clock.Now(),
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn("Failed to record audit event",
			zap.String("action", string(action)),
			zap.String("job", job),
			zap.Error(err))
	}
}
