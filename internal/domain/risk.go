package domain

import (
	"time"
)

// RiskLevel is the bucketed interpretation of a numeric risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Risk tier boundaries. The score scale saturates at MaxRiskScore and
// CRITICAL is reachable only at the clamp ceiling.
const (
	MaxRiskScore       = 100.0
	RiskHighThreshold  = 71.0
	RiskMediumThreshold = 31.0
)

// RiskFactor is one heterogeneous signal contributing to a risk score.
type RiskFactor struct {
	Type     string  `json:"type"`
	Score    float64 `json:"score"`
	Evidence string  `json:"evidence,omitempty"`
}

// RiskScore is one append-only entry in a subject's score history.
type RiskScore struct {
	ID           string       `json:"id"`
	SubjectID    string       `json:"subjectId"`
	Score        float64      `json:"score"` // 0-100, saturating
	Level        RiskLevel    `json:"level"`
	Factors      []RiskFactor `json:"factors,omitempty"`
	CalculatedAt time.Time    `json:"calculatedAt"`
	CalculatedBy string       `json:"calculatedBy,omitempty"`
}

// MatchField identifies which identity attribute matched another subject.
type MatchField string

const (
	MatchDocument MatchField = "DOCUMENT"
	MatchEmail    MatchField = "EMAIL"
	MatchPhone    MatchField = "PHONE"
)

// IdentityMatch records one duplicate-identity hit against another subject.
// Matches are a replace-on-recalculation snapshot, unlike the append-only
// score history.
type IdentityMatch struct {
	ID               string     `json:"id"`
	SubjectID        string     `json:"subjectId"`
	MatchedSubjectID string     `json:"matchedSubjectId"`
	Field            MatchField `json:"field"`
	Weight           float64    `json:"weight"`
	CountryMismatch  bool       `json:"countryMismatch"`
	CreatedAt        time.Time  `json:"createdAt"`
}
