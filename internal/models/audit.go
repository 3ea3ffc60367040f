package models

import "time"

// AuditKind classifies an audited action
type AuditKind string

const (
	// AuditAttempted records a non-mutating action (status query, resend)
	AuditAttempted AuditKind = "attempted"
	// AuditBlocked records a request that was refused before any mutation
	AuditBlocked AuditKind = "blocked"
	// AuditApplied records a successfully applied mutation
	AuditApplied AuditKind = "applied"
	// AuditError records an execution failure after validation passed
	AuditError AuditKind = "error"
)

// IsValid returns true if the kind is one of the defined constants
func (k AuditKind) IsValid() bool {
	switch k {
	case AuditAttempted, AuditBlocked, AuditApplied, AuditError:
		return true
	default:
		return false
	}
}

// AuditEntry is one record in the append-only audit log. Seq is assigned
// exclusively by the audit log on append; entries are never mutated or
// deleted once written.
type AuditEntry struct {
	Seq       int64          `json:"seq"`
	EntryID   string         `json:"entry_id"`
	InvoiceID string         `json:"invoice_id"`
	Kind      AuditKind      `json:"kind"`
	Tool      string         `json:"tool,omitempty"`
	Trigger   string         `json:"trigger,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
