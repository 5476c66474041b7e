package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/model"
)

// AutoBalancerConfig controls unattended redistribution
type AutoBalancerConfig struct {
	// Schedule is a cron spec with a seconds field, or a descriptor such as
	// "@daily". Empty disables rebalancing.
	Schedule       string
	Window         model.Window
	MaxConcurrency int
	Principal      string
	// DueCheck optionally logs the jobs that became due, e.g. "@every 1m".
	// It runs on its own even when Schedule is empty.
	DueCheck string
}

// AutoBalancer runs Service.Rebalance on a cron schedule
type AutoBalancer struct {
	logger  *zap.Logger
	service *Service
	cfg     AutoBalancerConfig
	cron    *cron.Cron
	entry   cron.EntryID

	mu        sync.Mutex
	lastPlan  *model.RedistributionPlan
	lastRun   time.Time
	lastErr   error
	dueSince  time.Time
	lastDue   []string
	lastDueAt time.Time
	cancelRun context.CancelFunc
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewAutoBalancer validates cfg and creates a stopped balancer
func NewAutoBalancer(service *Service, cfg AutoBalancerConfig, logger *zap.Logger) (*AutoBalancer, error) {
	if cfg.Schedule == "" && cfg.DueCheck == "" {
		return nil, fmt.Errorf("neither a rebalance schedule nor a due check is set")
	}
	if cfg.Schedule != "" {
		if _, err := specParser.Parse(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("invalid rebalance schedule %q: %w", cfg.Schedule, err)
		}
		if cfg.Window.Duration() <= 0 || !cfg.Window.Start.Valid() || !cfg.Window.End.Valid() {
			return nil, fmt.Errorf("%w: %s-%s", ErrInvalidWindow, cfg.Window.Start, cfg.Window.End)
		}
	}
	if cfg.DueCheck != "" {
		if _, err := specParser.Parse(cfg.DueCheck); err != nil {
			return nil, fmt.Errorf("invalid due check schedule %q: %w", cfg.DueCheck, err)
		}
	}

	logger = logger.Named("auto-balancer")
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	}
	if loc := service.zone(); loc != nil {
		cronOptions = append(cronOptions, cron.WithLocation(loc))
	}

	return &AutoBalancer{
		logger:  logger,
		service: service,
		cfg:     cfg,
		cron:    cron.New(cronOptions...),
	}, nil
}

// Start registers the schedules and starts the cron loop
func (b *AutoBalancer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	var entry cron.EntryID
	if b.cfg.Schedule != "" {
		var err error
		entry, err = b.cron.AddFunc(b.cfg.Schedule, func() {
			if _, err := b.RunOnce(runCtx); err != nil {
				b.logger.Error("Scheduled rebalance failed", zap.Error(err))
			}
		})
		if err != nil {
			cancel()
			return fmt.Errorf("failed to add rebalance job: %w", err)
		}
	}

	if b.cfg.DueCheck != "" {
		b.mu.Lock()
		b.dueSince = b.service.Clock().Now()
		b.mu.Unlock()
		if _, err := b.cron.AddFunc(b.cfg.DueCheck, func() { b.checkDue(runCtx) }); err != nil {
			if entry != 0 {
				b.cron.Remove(entry)
			}
			cancel()
			return fmt.Errorf("failed to add due check job: %w", err)
		}
	}

	b.mu.Lock()
	b.entry = entry
	b.cancelRun = cancel
	b.mu.Unlock()

	b.cron.Start()
	b.logger.Info("Auto-balancer started",
		zap.String("schedule", b.cfg.Schedule),
		zap.String("due_check", b.cfg.DueCheck),
		zap.String("window_start", b.cfg.Window.Start.String()),
		zap.String("window_end", b.cfg.Window.End.String()),
		zap.Int("max_concurrency", b.cfg.MaxConcurrency))
	return nil
}

// Stop stops the cron loop and waits for a running rebalance to finish
func (b *AutoBalancer) Stop() {
	ctx := b.cron.Stop()
	<-ctx.Done()

	b.mu.Lock()
	if b.cancelRun != nil {
		b.cancelRun()
		b.cancelRun = nil
	}
	b.mu.Unlock()
	b.logger.Info("Auto-balancer stopped")
}

// RunOnce performs one rebalance immediately
func (b *AutoBalancer) RunOnce(ctx context.Context) (*model.RedistributionPlan, error) {
	started := b.service.Clock().Now()
	plan, err := b.service.Rebalance(ctx, b.cfg.Principal, b.cfg.Window, b.cfg.MaxConcurrency)

	b.mu.Lock()
	b.lastRun = started
	b.lastPlan = plan
	b.lastErr = err
	b.mu.Unlock()

	if err != nil {
		return plan, err
	}
	b.logger.Info("Rebalance completed",
		zap.Int("count", plan.Count),
		zap.Int("moved", len(plan.Assignments)),
		zap.Duration("interval", plan.Interval),
		zap.Int("concurrency", plan.Concurrency))
	return plan, nil
}

// LastRun returns the time, plan and error of the latest rebalance
func (b *AutoBalancer) LastRun() (time.Time, *model.RedistributionPlan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun, b.lastPlan, b.lastErr
}

// NextRun returns when the rebalance fires next; zero before Start or
// without a rebalance schedule
func (b *AutoBalancer) NextRun() time.Time {
	b.mu.Lock()
	entry := b.entry
	b.mu.Unlock()
	if entry == 0 {
		return time.Time{}
	}
	return b.cron.Entry(entry).Next
}

// LastDue returns the jobs reported by the latest due check that found any,
// and the end of the window they fired in
func (b *AutoBalancer) LastDue() ([]string, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lastDue...), b.lastDueAt
}

func (b *AutoBalancer) checkDue(ctx context.Context) {
	now := b.service.Clock().Now()

	b.mu.Lock()
	since := b.dueSince
	b.dueSince = now
	b.mu.Unlock()

	due, err := b.service.DueJobs(ctx, since, now)
	if err != nil {
		b.logger.Error("Failed to check due jobs", zap.Error(err))
		return
	}
	if len(due) > 0 {
		b.mu.Lock()
		b.lastDue, b.lastDueAt = due, now
		b.mu.Unlock()
		b.logger.Info("Jobs due",
			zap.Strings("jobs", due),
			zap.Time("since", since),
			zap.Time("until", now))
	}
}
