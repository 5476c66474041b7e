package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/clock"
	"github.com/t77yq/trigger-planner/internal/model"
	"github.com/t77yq/trigger-planner/internal/monitor"
	"github.com/t77yq/trigger-planner/internal/scheduler"
	"github.com/t77yq/trigger-planner/internal/storage"
)

// app holds the components every command works against
type app struct {
	store   *storage.SQLiteJobStore
	service *scheduler.Service
	nc      *nats.Conn
}

func openApp(ctx context.Context) (*app, error) {
	store, err := storage.NewSQLiteJobStore(logger, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	a := &app{store: store}

	sinks := monitor.MultiAuditSink{monitor.NewLogAuditSink(logger, 0)}
	if cfg.NATS.Enabled {
		nc, err := connectNATS()
		if err != nil {
			a.close()
			return nil, err
		}
		a.nc = nc

		js, err := nc.JetStream()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		natsSink := monitor.NewNATSAuditSink(logger, js, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
		if err := natsSink.Start(ctx); err != nil {
			a.close()
			return nil, err
		}
		sinks = append(sinks, natsSink)
	}

	perms := scheduler.NewOwnerPolicy(cfg.Auth.Admins, func(ctx context.Context, name string) (string, bool) {
		job, err := store.Get(ctx, name)
		if err != nil {
			return "", false
		}
		return job.Owner, true
	})

	redistributor := scheduler.DefaultRedistributorConfig()
	redistributor.IntervalTable = cfg.Rebalance.Intervals
	redistributor.MinLaneInterval = cfg.Rebalance.MinLaneInterval

	a.service = scheduler.NewService(store, perms, sinks, clock.Real(), scheduler.ServiceConfig{
		Zone:          cfg.Location,
		BucketMinutes: cfg.Histogram.BucketMinutes,
		HistogramTTL:  cfg.Histogram.CacheTTL,
		Redistributor: redistributor,
	}, logger)
	return a, nil
}

func (a *app) close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close job store", zap.Error(err))
	}
}

func connectNATS() (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after retries: %w", err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// describeError turns domain errors into short operator messages
func describeError(err error) error {
	var cycle *scheduler.CycleError
	switch {
	case errors.As(err, &cycle):
		return fmt.Errorf("rejected: %w", err)
	case errors.Is(err, model.ErrJobNotFound):
		return fmt.Errorf("no such job: %w", err)
	case errors.Is(err, scheduler.ErrPermissionDenied):
		return fmt.Errorf("%w (use --as or auth.principal)", err)
	default:
		return err
	}
}
