package domain

import (
	"time"
)

// TransactionState is the lifecycle state of a money movement.
type TransactionState string

const (
	TxPending        TransactionState = "PENDING"
	TxUnderReview    TransactionState = "UNDER_REVIEW"
	TxApproved       TransactionState = "APPROVED"
	TxReadyForPickup TransactionState = "READY_FOR_PICKUP"
	TxCompleted      TransactionState = "COMPLETED"
	TxRejected       TransactionState = "REJECTED"
	TxCancelled      TransactionState = "CANCELLED"
)

// Transaction represents a remittance transfer tracked by the engine.
type Transaction struct {
	// Core identifiers
	ID        string `json:"id"`
	SubjectID string `json:"subjectId"` // sending user

	// Recipient
	RecipientID      string `json:"recipientId,omitempty"`
	RecipientCountry string `json:"recipientCountry,omitempty"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Lifecycle
	State TransactionState `json:"state"`

	// Temporal
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
