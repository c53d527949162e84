package scoring

import (
	"testing"

	"github.com/remitwatch/kestrel/internal/domain"
)

func TestAggregate(t *testing.T) {
	agg := NewAggregator()

	t.Run("SumsPositiveFactors", func(t *testing.T) {
		rs := agg.Aggregate("subj-001", []domain.RiskFactor{
			{Type: "a", Score: 30},
			{Type: "b", Score: 10},
			{Type: "c", Score: 15},
		}, "detector:duplicate_identity")

		if rs.Score != 55 {
			t.Errorf("expected 55, got %.0f", rs.Score)
		}
		if rs.Level != domain.RiskMedium {
			t.Errorf("expected MEDIUM, got %s", rs.Level)
		}
		if rs.SubjectID != "subj-001" || rs.CalculatedBy != "detector:duplicate_identity" {
			t.Error("score entry must carry subject and calculator")
		}
		if rs.ID == "" || rs.CalculatedAt.IsZero() {
			t.Error("score entry must carry ID and timestamp")
		}
	})

	t.Run("NegativeFactorsIgnored", func(t *testing.T) {
		rs := agg.Aggregate("subj-001", []domain.RiskFactor{
			{Type: "a", Score: 40},
			{Type: "b", Score: -20},
		}, "test")
		if rs.Score != 40 {
			t.Errorf("expected 40, got %.0f", rs.Score)
		}
	})

	t.Run("EmptyFactors", func(t *testing.T) {
		rs := agg.Aggregate("subj-001", nil, "test")
		if rs.Score != 0 || rs.Level != domain.RiskLow {
			t.Errorf("expected 0/LOW, got %.0f/%s", rs.Score, rs.Level)
		}
	})
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{30.9, domain.RiskLow},
		{31, domain.RiskMedium},
		{70.9, domain.RiskMedium},
		{71, domain.RiskHigh},
		{99.9, domain.RiskHigh},
		{100, domain.RiskCritical},
	}
	for _, tc := range cases {
		if got := TierFor(tc.score); got != tc.want {
			t.Errorf("TierFor(%.1f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(150); got != 100 {
		t.Errorf("Clamp(150) = %.0f, want 100", got)
	}
	if got := Clamp(-5); got != 0 {
		t.Errorf("Clamp(-5) = %.0f, want 0", got)
	}
	if got := Clamp(42); got != 42 {
		t.Errorf("Clamp(42) = %.0f, want 42", got)
	}
}
