package lifecycle

import (
	"github.com/remitwatch/kestrel/internal/domain"
)

// NewTransactionMachine builds the money-movement lifecycle machine.
//
// COMPLETED, REJECTED and CANCELLED are terminal. The PENDING->APPROVED
// guard always fails: even if the adjacency map were ever loosened, a
// transaction can never skip human review on its way to approval.
func NewTransactionMachine(sink domain.AuditSink) *Machine[domain.TransactionState] {
	adjacency := map[domain.TransactionState][]domain.TransactionState{
		domain.TxPending:        {domain.TxUnderReview, domain.TxRejected, domain.TxCancelled},
		domain.TxUnderReview:    {domain.TxApproved, domain.TxRejected, domain.TxCancelled},
		domain.TxApproved:       {domain.TxReadyForPickup, domain.TxCancelled},
		domain.TxReadyForPickup: {domain.TxCompleted, domain.TxCancelled},
		domain.TxCompleted:      {},
		domain.TxRejected:       {},
		domain.TxCancelled:      {},
	}

	m := New(domain.EntityTransaction, adjacency, sink)

	m.RegisterGuard(domain.TxPending, domain.TxApproved, Guard[domain.TransactionState]{
		Name: "review-before-approval",
		Check: func(_, _ domain.TransactionState, _ Context) Result {
			return Reject("must be reviewed before approval")
		},
	})

	m.RegisterWildcardGuard(domain.TxRejected,
		RequireReason[domain.TransactionState]("rejection-reason", "Rejection reason is required"))
	m.RegisterWildcardGuard(domain.TxCancelled,
		RequireReason[domain.TransactionState]("cancellation-reason", "Cancellation reason is required"))

	return m
}
