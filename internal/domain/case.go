package domain

import (
	"time"
)

// CaseStatus is the investigation status of a case.
type CaseStatus string

const (
	CaseOpen          CaseStatus = "OPEN"
	CaseInvestigating CaseStatus = "INVESTIGATING"
	CaseResolved      CaseStatus = "RESOLVED"
	CaseClosed        CaseStatus = "CLOSED"
	CaseEscalated     CaseStatus = "ESCALATED"
)

// CaseActivityType classifies an entry in a case's activity log.
type CaseActivityType string

const (
	ActivityCreated       CaseActivityType = "CREATED"
	ActivityAssigned      CaseActivityType = "ASSIGNED"
	ActivityStatusChanged CaseActivityType = "STATUS_CHANGED"
	ActivityNoteAdded     CaseActivityType = "NOTE_ADDED"
	ActivityResolved      CaseActivityType = "RESOLVED"
)

// Case is a human-investigable aggregation of one or more alerts.
type Case struct {
	ID         string `json:"id"`
	CaseNumber string `json:"caseNumber"`

	SubjectID     string `json:"subjectId"`
	TransactionID string `json:"transactionId,omitempty"`

	Type     AlertType  `json:"type"`
	Severity Severity   `json:"severity"`
	Status   CaseStatus `json:"status"`

	Title       string `json:"title"`
	Description string `json:"description"`

	AssignedTo      string `json:"assignedTo,omitempty"`
	ResolvedBy      string `json:"resolvedBy,omitempty"`
	ResolutionNotes string `json:"resolutionNotes,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CaseActivity is one immutable entry in a case's ordered activity log.
type CaseActivity struct {
	ID       string           `json:"id"`
	CaseID   string           `json:"caseId"`
	Type     CaseActivityType `json:"type"`
	ActorID  string           `json:"actorId"`
	Note     string           `json:"note,omitempty"`
	OldValue string           `json:"oldValue,omitempty"`
	NewValue string           `json:"newValue,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// CaseFilters narrows case listings.
type CaseFilters struct {
	SubjectID  string
	Status     CaseStatus
	Severity   Severity
	AssignedTo string
}

// CaseStatistics partitions case counts by status and severity.
// All maps are zero-filled for every known status/severity so an empty
// store still yields a complete, all-zero response.
type CaseStatistics struct {
	Total      int                `json:"total"`
	ByStatus   map[CaseStatus]int `json:"byStatus"`
	BySeverity map[Severity]int   `json:"bySeverity"`
}

// NewCaseStatistics returns zero-filled statistics.
func NewCaseStatistics() *CaseStatistics {
	s := &CaseStatistics{
		ByStatus:   make(map[CaseStatus]int),
		BySeverity: make(map[Severity]int),
	}
	for _, st := range []CaseStatus{CaseOpen, CaseInvestigating, CaseResolved, CaseClosed, CaseEscalated} {
		s.ByStatus[st] = 0
	}
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh} {
		s.BySeverity[sev] = 0
	}
	return s
}
