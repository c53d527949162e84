package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/remitwatch/kestrel/internal/domain"
	"github.com/remitwatch/kestrel/internal/scoring"
)

// IdentityReader is the lookup surface the duplicate scorer needs. The
// repository satisfies it; tests substitute a fixture.
type IdentityReader interface {
	FindSubjectsByDocument(ctx context.Context, document, excludeID string) ([]*domain.Subject, error)
	FindSubjectsByEmail(ctx context.Context, email, excludeID string) ([]*domain.Subject, error)
	FindSubjectsByPhone(ctx context.Context, phone, excludeID string) ([]*domain.Subject, error)
}

// DuplicateScorer searches for other subjects sharing the same normalized
// document number, email, or phone and turns each match into a weighted
// risk factor. Unlike the activity detectors it needs a live lookup, so it
// is not a Detector; the runner invokes it directly.
type DuplicateScorer struct {
	reader IdentityReader
	cfg    domain.DetectorConfig
}

func NewDuplicateScorer(reader IdentityReader, cfg domain.DetectorConfig) *DuplicateScorer {
	return &DuplicateScorer{reader: reader, cfg: cfg}
}

// Score returns the risk factors and the current identity-match snapshot
// for the subject. Matches are a snapshot of "who looks like this subject
// right now": the caller replaces prior matches rather than appending.
func (d *DuplicateScorer) Score(ctx context.Context, subject *domain.Subject) ([]domain.RiskFactor, []*domain.IdentityMatch, error) {
	now := time.Now().UTC()

	var factors []domain.RiskFactor
	var matches []*domain.IdentityMatch
	mismatched := make(map[string]bool)

	appendMatches := func(found []*domain.Subject, field domain.MatchField, weight float64, evidence string) {
		for _, other := range found {
			if other == nil || other.ID == subject.ID {
				continue
			}
			factors = append(factors, domain.RiskFactor{
				Type:     string(domain.AlertDuplicateIdentity),
				Score:    weight,
				Evidence: fmt.Sprintf("%s shared with subject %s", evidence, other.ID),
			})
			countryMismatch := other.ResidenceCountry != "" &&
				subject.ResidenceCountry != "" &&
				other.ResidenceCountry != subject.ResidenceCountry
			matches = append(matches, &domain.IdentityMatch{
				ID:               uuid.New().String(),
				SubjectID:        subject.ID,
				MatchedSubjectID: other.ID,
				Field:            field,
				Weight:           weight,
				CountryMismatch:  countryMismatch,
				CreatedAt:        now,
			})
			// Country mismatch is charged once per distinct matched
			// subject, not once per matching field.
			if countryMismatch && !mismatched[other.ID] {
				mismatched[other.ID] = true
				factors = append(factors, domain.RiskFactor{
					Type:     string(domain.AlertDuplicateIdentity),
					Score:    d.cfg.CountryMismatchWeight,
					Evidence: fmt.Sprintf("residence country mismatch with subject %s (%s vs %s)", other.ID, subject.ResidenceCountry, other.ResidenceCountry),
				})
			}
		}
	}

	if doc := NormalizeDocument(subject.DocumentNumber); doc != "" {
		found, err := d.reader.FindSubjectsByDocument(ctx, doc, subject.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("duplicate scorer: document lookup: %w", err)
		}
		appendMatches(found, domain.MatchDocument, d.cfg.DocumentMatchWeight, "document number")
	}

	if email := NormalizeEmail(subject.Email); email != "" {
		found, err := d.reader.FindSubjectsByEmail(ctx, email, subject.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("duplicate scorer: email lookup: %w", err)
		}
		appendMatches(found, domain.MatchEmail, d.cfg.ContactMatchWeight, "email address")
	}

	if phone := NormalizePhone(subject.Phone); phone != "" {
		found, err := d.reader.FindSubjectsByPhone(ctx, phone, subject.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("duplicate scorer: phone lookup: %w", err)
		}
		appendMatches(found, domain.MatchPhone, d.cfg.ContactMatchWeight, "phone number")
	}

	return factors, matches, nil
}

// Alert builds a DUPLICATE_IDENTITY alert when the aggregated score lands
// in HIGH or CRITICAL. Lower tiers update the subject's risk profile
// without raising an alert.
func (d *DuplicateScorer) Alert(subject *domain.Subject, score *domain.RiskScore, matches []*domain.IdentityMatch) *domain.Alert {
	tier := scoring.TierFor(score.Score)
	if tier != domain.RiskHigh && tier != domain.RiskCritical {
		return nil
	}
	severity := domain.SeverityHigh
	matchedIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		matchedIDs = append(matchedIDs, m.MatchedSubjectID)
	}
	return &domain.Alert{
		ID:        uuid.New().String(),
		SubjectID: subject.ID,
		Type:      domain.AlertDuplicateIdentity,
		Severity:  severity,
		Status:    domain.AlertOpen,
		Message:   fmt.Sprintf("Duplicate identity risk score %.0f (%s) for subject %s", score.Score, tier, subject.ID),
		Details: map[string]interface{}{
			"score":             score.Score,
			"riskLevel":         string(tier),
			"matchedSubjectIds": matchedIDs,
		},
		CreatedAt: time.Now().UTC(),
	}
}
