package domain

import (
	"context"
	"time"
)

// Audited entity kinds.
const (
	EntityTransaction = "transaction"
	EntitySubject     = "subject"
	EntityCase        = "case"
)

// Audited actions.
const (
	ActionStateTransition = "state_transition"
	ActionCaseActivity    = "case_activity"
	ActionAlertReview     = "alert_review"
)

// AuditRecord is one immutable entry in the compliance journal.
// Records are append-only; nothing in the engine updates or deletes them.
type AuditRecord struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	SubjectID  string `json:"subjectId,omitempty"`

	Action    string `json:"action"`
	FromState string `json:"fromState,omitempty"`
	ToState   string `json:"toState,omitempty"`

	ActorID string `json:"actorId"`
	Reason  string `json:"reason,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// AuditSink receives compliance-relevant records. An Append failure means
// the record was NOT durably written and the enclosing operation must be
// treated as failed (ErrStorageUnavailable semantics).
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
}
