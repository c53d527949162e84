package lifecycle

import (
	"github.com/remitwatch/kestrel/internal/domain"
)

// NewIdentityMachine builds the identity-verification (KYC) lifecycle
// machine. APPROVED->PENDING models re-verification, REJECTED->PENDING
// resubmission. Approval requires a documented justification just like
// rejection does.
func NewIdentityMachine(sink domain.AuditSink) *Machine[domain.KYCState] {
	adjacency := map[domain.KYCState][]domain.KYCState{
		domain.KYCNotSubmitted: {domain.KYCPending},
		domain.KYCPending:      {domain.KYCApproved, domain.KYCRejected},
		domain.KYCApproved:     {domain.KYCPending},
		domain.KYCRejected:     {domain.KYCPending},
	}

	m := New(domain.EntitySubject, adjacency, sink)

	m.RegisterWildcardGuard(domain.KYCApproved,
		RequireReason[domain.KYCState]("approval-reason", "Approval reason is required"))
	m.RegisterWildcardGuard(domain.KYCRejected,
		RequireReason[domain.KYCState]("rejection-reason", "Rejection reason is required"))

	return m
}
