package model

import "time"

// AuditAction names an auditable scheduler change
type AuditAction string

const (
	AuditConditionsChanged  AuditAction = "conditions_changed"
	AuditDependencyRejected AuditAction = "dependency_rejected"
	AuditRebalanceApplied   AuditAction = "rebalance_applied"
	AuditJobImported        AuditAction = "job_imported"
)

// AuditEvent records a change made through the scheduler service
type AuditEvent struct {
	ID        string                 `json:"id"`
	Action    AuditAction            `json:"action"`
	Principal string                 `json:"principal"`
	Job       string                 `json:"job,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
