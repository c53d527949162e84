package domain

import (
	"time"
)

// KYCState is the identity-verification lifecycle state of a subject.
type KYCState string

const (
	KYCNotSubmitted KYCState = "NOT_SUBMITTED"
	KYCPending      KYCState = "PENDING"
	KYCApproved     KYCState = "APPROVED"
	KYCRejected     KYCState = "REJECTED"
)

// Subject is a user whose identity and activity the engine tracks.
// DocumentNumber, Email and Phone are stored normalized so that
// duplicate-identity matching is a plain equality lookup.
type Subject struct {
	ID string `json:"id"`

	// Identity attributes used for duplicate matching
	DocumentNumber string `json:"documentNumber,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`

	Nationality      string `json:"nationality,omitempty"`
	ResidenceCountry string `json:"residenceCountry,omitempty"`

	// Lifecycle
	KYCState KYCState `json:"kycState"`

	// Denormalized current risk, overwritten on each recalculation.
	// The full history lives in the risk_scores table.
	RiskScore float64   `json:"riskScore"`
	RiskLevel RiskLevel `json:"riskLevel"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
