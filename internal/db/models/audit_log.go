// Package models - audit_log.go defines the append-only AuditLog model capturing actor,
// action, affected entity, before/after snapshots and request context.
package models

import (
	"encoding/json"
	"time"
)

// Audit actions
const (
	AuditActionCreate = "CREATE"
	AuditActionUpdate = "UPDATE"
)

// Audit entities
const (
	AuditEntityCertificate = "Certificate"
)

// AuditLog represents an audit log entry for tracking mutations
type AuditLog struct {
	ID        string          `json:"id"`
	UserID    *string         `json:"userId"` // Nullable for system actions
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  *string         `json:"entityId"`
	Details   *string         `json:"details,omitempty"`
	OldValues json.RawMessage `json:"oldValues,omitempty"` // JSONB snapshot before the mutation
	NewValues json.RawMessage `json:"newValues,omitempty"` // JSONB snapshot after the mutation
	IPAddress *string         `json:"ipAddress,omitempty"`
	UserAgent *string         `json:"userAgent,omitempty"`
	RequestID *string         `json:"requestId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
