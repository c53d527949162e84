package lifecycle

import (
	"github.com/remitwatch/kestrel/internal/domain"
)

// NewCaseMachine builds the investigation-case lifecycle machine. Cases
// get the same guarded-transition discipline as transactions and KYC:
// CLOSED is terminal, so resolving or reopening an already-closed case is
// structurally impossible, and resolution always carries notes.
func NewCaseMachine(sink domain.AuditSink) *Machine[domain.CaseStatus] {
	adjacency := map[domain.CaseStatus][]domain.CaseStatus{
		domain.CaseOpen:          {domain.CaseInvestigating, domain.CaseEscalated, domain.CaseResolved, domain.CaseClosed},
		domain.CaseInvestigating: {domain.CaseEscalated, domain.CaseResolved, domain.CaseClosed},
		domain.CaseEscalated:     {domain.CaseInvestigating, domain.CaseResolved, domain.CaseClosed},
		domain.CaseResolved:      {domain.CaseClosed},
		domain.CaseClosed:        {},
	}

	m := New(domain.EntityCase, adjacency, sink)

	m.RegisterWildcardGuard(domain.CaseResolved,
		RequireReason[domain.CaseStatus]("resolution-notes", "Resolution notes are required"))

	return m
}
