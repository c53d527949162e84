// Package scoring combines heterogeneous risk signals into a single
// bounded risk score and risk tier per subject.
package scoring

import (
	"time"

	"github.com/google/uuid"
	"github.com/remitwatch/kestrel/internal/domain"
)

// Aggregator folds risk factors into a saturating 0-100 score.
type Aggregator struct{}

// NewAggregator creates an aggregator with the stock tier boundaries.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate sums the factor scores, clamps the total to [0, 100] and
// assigns the risk tier. The returned entry is one append-only row of the
// subject's score history; the caller persists it and overwrites the
// subject's denormalized current score.
func (a *Aggregator) Aggregate(subjectID string, factors []domain.RiskFactor, calculatedBy string) *domain.RiskScore {
	total := 0.0
	for _, f := range factors {
		if f.Score > 0 {
			total += f.Score
		}
	}

	total = Clamp(total)

	return &domain.RiskScore{
		ID:           uuid.New().String(),
		SubjectID:    subjectID,
		Score:        total,
		Level:        TierFor(total),
		Factors:      factors,
		CalculatedAt: time.Now().UTC(),
		CalculatedBy: calculatedBy,
	}
}

// Clamp saturates a raw factor sum to the [0, 100] score scale.
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > domain.MaxRiskScore {
		return domain.MaxRiskScore
	}
	return score
}

// TierFor buckets a clamped score into a risk tier. CRITICAL is the clamp
// ceiling itself, reachable only by accumulation across many signals.
func TierFor(score float64) domain.RiskLevel {
	switch {
	case score >= domain.MaxRiskScore:
		return domain.RiskCritical
	case score >= domain.RiskHighThreshold:
		return domain.RiskHigh
	case score >= domain.RiskMediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
