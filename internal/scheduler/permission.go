package scheduler

import (
	"context"
	"strings"
)

// OwnerPolicy lets admins do anything and job owners edit their own jobs.
// Job resources are named "job:<name>".
type OwnerPolicy struct {
	admins map[string]bool
	owners func(ctx context.Context, job string) (string, bool)
}

// NewOwnerPolicy creates a policy. owners resolves a job's owner.
func NewOwnerPolicy(admins []string, owners func(ctx context.Context, job string) (string, bool)) *OwnerPolicy {
	p := &OwnerPolicy{admins: make(map[string]bool), owners: owners}
	for _, a := range admins {
		p.admins[a] = true
	}
	return p
}

// Allowed implements PermissionChecker
func (p *OwnerPolicy) Allowed(ctx context.Context, resource, action, principal string) bool {
	if principal == "" {
		return false
	}
	if p.admins[principal] {
		return true
	}
	if action == actionViewLoad {
		return true
	}
	job, ok := strings.CutPrefix(resource, "job:")
	if !ok || action != actionEditJob || p.owners == nil {
		return false
	}
	owner, found := p.owners(ctx, job)
	return found && owner == principal
}

// AllowAll grants every request; used when authorization happens upstream
type AllowAll struct{}

// Allowed implements PermissionChecker
func (AllowAll) Allowed(context.Context, string, string, string) bool { return true }

func jobResource(name string) string {
	return "job:" + name
}
