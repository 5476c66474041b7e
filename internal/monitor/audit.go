package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/model"
)

const (
	DefaultAuditStream  = "AUDIT"
	DefaultAuditSubject = "audit"
)

// NATSAuditSink publishes audit events to a JetStream stream on
// "<prefix>.<action>" subjects.
type NATSAuditSink struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	stream string
	prefix string
}

// NewNATSAuditSink creates a sink. Empty stream or prefix take the defaults.
func NewNATSAuditSink(logger *zap.Logger, js nats.JetStreamContext, stream, prefix string) *NATSAuditSink {
	if stream == "" {
		stream = DefaultAuditStream
	}
	if prefix == "" {
		prefix = DefaultAuditSubject
	}
	return &NATSAuditSink{
		logger: logger.Named("audit"),
		js:     js,
		stream: stream,
		prefix: prefix,
	}
}

// Start creates the audit stream if it doesn't exist
func (s *NATSAuditSink) Start(ctx context.Context) error {
	_, err := s.js.StreamInfo(s.stream)
	if err == nil {
		s.logger.Info("Using existing audit stream", zap.String("name", s.stream))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:     s.stream,
		Subjects: []string{s.prefix + ".*"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
		MaxMsgs:  -1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	s.logger.Info("Created audit stream", zap.String("name", s.stream))
	return nil
}

// Subject returns the subject events of action are published on
func (s *NATSAuditSink) Subject(action model.AuditAction) string {
	return s.prefix + "." + string(action)
}

// Record implements scheduler.AuditSink
func (s *NATSAuditSink) Record(ctx context.Context, event *model.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := s.js.Publish(s.Subject(event.Action), data, nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	s.logger.Debug("Audit event published",
		zap.String("id", event.ID),
		zap.String("action", string(event.Action)),
		zap.String("job", event.Job))
	return nil
}

// LogAuditSink writes audit events to the log and keeps the most recent ones
type LogAuditSink struct {
	logger *zap.Logger
	keep   int

	mu     sync.Mutex
	events []*model.AuditEvent
}

// NewLogAuditSink creates a sink retaining up to keep events
func NewLogAuditSink(logger *zap.Logger, keep int) *LogAuditSink {
	return &LogAuditSink{logger: logger.Named("audit"), keep: keep}
}

// Record implements scheduler.AuditSink
func (s *LogAuditSink) Record(ctx context.Context, event *model.AuditEvent) error {
	s.logger.Info("Audit event",
		zap.String("id", event.ID),
		zap.String("action", string(event.Action)),
		zap.String("principal", event.Principal),
		zap.String("job", event.Job),
		zap.String("message", event.Message),
		zap.Any("data", event.Data))

	if s.keep <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.keep {
		s.events = s.events[len(s.events)-s.keep:]
	}
	return nil
}

// Events returns the retained events, oldest first
func (s *LogAuditSink) Events() []*model.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.AuditEvent(nil), s.events...)
}

// MultiAuditSink fans an event out to several sinks
type MultiAuditSink []interface {
	Record(ctx context.Context, event *model.AuditEvent) error
}

// Record implements scheduler.AuditSink; every sink is tried
func (m MultiAuditSink) Record(ctx context.Context, event *model.AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
