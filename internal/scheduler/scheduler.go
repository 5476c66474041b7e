package scheduler

import (
	"context"

	"github.com/t77yq/trigger-planner/internal/model"
)

// JobStore abstracts job persistence
type JobStore interface {
	// List returns every job
	List(ctx context.Context) ([]*model.Job, error)

	// Get returns one job or model.ErrJobNotFound
	Get(ctx context.Context, name string) (*model.Job, error)

	// Save creates or replaces a job
	Save(ctx context.Context, job *model.Job) error

	// SaveAll creates or replaces jobs all or nothing
	SaveAll(ctx context.Context, jobs []*model.Job) error
}

// PermissionChecker decides whether a principal may act on a resource
type PermissionChecker interface {
	Allowed(ctx context.Context, resource, action, principal string) bool
}

// AuditSink records scheduler changes
type AuditSink interface {
	Record(ctx context.Context, event *model.AuditEvent) error
}
