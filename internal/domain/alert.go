package domain

import (
	"time"
)

// AlertType identifies the detector that raised an alert.
type AlertType string

const (
	AlertVelocityCount    AlertType = "VELOCITY_COUNT"
	AlertVelocityAmount   AlertType = "VELOCITY_AMOUNT"
	AlertStructuring      AlertType = "STRUCTURING"
	AlertDuplicateIdentity AlertType = "DUPLICATE_IDENTITY"
)

// Severity is the alert severity tier.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// AlertStatus is the review status of an alert.
type AlertStatus string

const (
	AlertOpen        AlertStatus = "OPEN"
	AlertUnderReview AlertStatus = "UNDER_REVIEW"
	AlertResolved    AlertStatus = "RESOLVED"
)

// Alert is a single automated detection event, scoped to one detector run.
// Immutable once written except for the status/reviewer fields.
type Alert struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subjectId"`
	TransactionID string    `json:"transactionId,omitempty"`
	Type          AlertType `json:"type"`
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`

	// Details is the structured detector evidence payload.
	Details map[string]interface{} `json:"details,omitempty"`

	Status     AlertStatus `json:"status"`
	ReviewedBy string      `json:"reviewedBy,omitempty"`

	// CaseID is set when the alert is linked to a case. An alert belongs
	// to at most one case.
	CaseID string `json:"caseId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// AlertFilters narrows alert listings.
type AlertFilters struct {
	SubjectID string
	Type      AlertType
	Severity  Severity
	Status    AlertStatus
}
