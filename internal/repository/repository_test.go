package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/remitwatch/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	subject := &domain.Subject{
		ID:               "subj-001",
		DocumentNumber:   "AB123456",
		Email:            "maria@example.com",
		Phone:            "+15550102030",
		Nationality:      "US",
		ResidenceCountry: "US",
		KYCState:         domain.KYCNotSubmitted,
		RiskLevel:        domain.RiskLow,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetSubject", func(t *testing.T) {
		if err := repo.SaveSubject(ctx, subject); err != nil {
			t.Fatalf("SaveSubject failed: %v", err)
		}

		got, err := repo.GetSubject(ctx, subject.ID)
		if err != nil {
			t.Fatalf("GetSubject failed: %v", err)
		}
		if got.DocumentNumber != subject.DocumentNumber || got.KYCState != domain.KYCNotSubmitted {
			t.Errorf("unexpected subject: %+v", got)
		}
	})

	t.Run("GetSubjectNotFound", func(t *testing.T) {
		if _, err := repo.GetSubject(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindSubjectsByDocument", func(t *testing.T) {
		other := &domain.Subject{
			ID:               "subj-002",
			DocumentNumber:   "AB123456",
			Email:            "other@example.com",
			Phone:            "+15550109999",
			ResidenceCountry: "MX",
			KYCState:         domain.KYCNotSubmitted,
			RiskLevel:        domain.RiskLow,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := repo.SaveSubject(ctx, other); err != nil {
			t.Fatalf("SaveSubject failed: %v", err)
		}

		found, err := repo.FindSubjectsByDocument(ctx, "AB123456", subject.ID)
		if err != nil {
			t.Fatalf("FindSubjectsByDocument failed: %v", err)
		}
		if len(found) != 1 || found[0].ID != "subj-002" {
			t.Errorf("expected only subj-002, got %v", found)
		}

		// Empty value short-circuits without a query.
		found, err = repo.FindSubjectsByDocument(ctx, "", subject.ID)
		if err != nil || len(found) != 0 {
			t.Errorf("empty document should match nothing, got %v, %v", found, err)
		}
	})

	t.Run("UpdateSubjectRisk", func(t *testing.T) {
		if err := repo.UpdateSubjectRisk(ctx, subject.ID, 55, domain.RiskMedium); err != nil {
			t.Fatalf("UpdateSubjectRisk failed: %v", err)
		}
		got, err := repo.GetSubject(ctx, subject.ID)
		if err != nil {
			t.Fatalf("GetSubject failed: %v", err)
		}
		if got.RiskScore != 55 || got.RiskLevel != domain.RiskMedium {
			t.Errorf("risk not updated: %.0f %s", got.RiskScore, got.RiskLevel)
		}

		if err := repo.UpdateSubjectRisk(ctx, "nobody", 10, domain.RiskLow); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:               "tx-001",
			SubjectID:        subject.ID,
			RecipientCountry: "MX",
			Amount:           1000,
			Currency:         "USD",
			State:            domain.TxPending,
			CreatedAt:        now,
			UpdatedAt:        now,
			Metadata:         map[string]interface{}{"channel": "web"},
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Amount != 1000 || got.State != domain.TxPending {
			t.Errorf("unexpected transaction: %+v", got)
		}
		if got.Metadata["channel"] != "web" {
			t.Errorf("metadata not round-tripped: %v", got.Metadata)
		}
	})

	t.Run("GetTransactionsBySubject", func(t *testing.T) {
		older := &domain.Transaction{
			ID:        "tx-002",
			SubjectID: subject.ID,
			Amount:    500,
			Currency:  "USD",
			State:     domain.TxPending,
			CreatedAt: now.Add(-48 * time.Hour),
			UpdatedAt: now.Add(-48 * time.Hour),
		}
		if err := repo.SaveTransaction(ctx, older); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		txs, err := repo.GetTransactionsBySubject(ctx, subject.ID, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("GetTransactionsBySubject failed: %v", err)
		}
		if len(txs) != 1 || txs[0].ID != "tx-001" {
			t.Errorf("window filter failed: %v", txs)
		}
	})

	t.Run("RequiredFields", func(t *testing.T) {
		if err := repo.SaveSubject(ctx, &domain.Subject{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveTransaction(ctx, &domain.Transaction{ID: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestApplyTransition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tx := &domain.Transaction{
		ID:        "tx-001",
		SubjectID: "subj-001",
		Amount:    100,
		Currency:  "USD",
		State:     domain.TxPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	rec := func(from, to domain.TransactionState) *domain.AuditRecord {
		return &domain.AuditRecord{
			ID:         "audit-" + string(from) + "-" + string(to),
			EntityType: domain.EntityTransaction,
			EntityID:   tx.ID,
			SubjectID:  tx.SubjectID,
			Action:     domain.ActionStateTransition,
			FromState:  string(from),
			ToState:    string(to),
			ActorID:    "ops-1",
			Reason:     "routine",
			CreatedAt:  time.Now().UTC(),
		}
	}

	t.Run("FlipsStateAndAppendsAudit", func(t *testing.T) {
		if err := repo.ApplyTransition(ctx, rec(domain.TxPending, domain.TxUnderReview)); err != nil {
			t.Fatalf("ApplyTransition failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.State != domain.TxUnderReview {
			t.Errorf("state not flipped, got %s", got.State)
		}

		records, err := repo.ListAuditRecords(ctx, domain.EntityTransaction, tx.ID, 10, 0)
		if err != nil {
			t.Fatalf("ListAuditRecords failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 audit record, got %d", len(records))
		}
		if records[0].FromState != string(domain.TxPending) || records[0].ToState != string(domain.TxUnderReview) {
			t.Errorf("unexpected record: %+v", records[0])
		}
	})

	t.Run("RaceLoserGetsStaleState", func(t *testing.T) {
		// The state is now UNDER_REVIEW; a second attempt assuming PENDING
		// must lose.
		err := repo.ApplyTransition(ctx, rec(domain.TxPending, domain.TxRejected))
		if !errors.Is(err, domain.ErrStaleState) {
			t.Fatalf("expected ErrStaleState, got %v", err)
		}

		// The losing attempt must not leave an audit record behind.
		records, _ := repo.ListAuditRecords(ctx, domain.EntityTransaction, tx.ID, 10, 0)
		if len(records) != 1 {
			t.Errorf("losing attempt leaked an audit record, have %d", len(records))
		}
	})

	t.Run("MissingEntity", func(t *testing.T) {
		missing := rec(domain.TxPending, domain.TxUnderReview)
		missing.EntityID = "tx-missing"
		if err := repo.ApplyTransition(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		bad := rec(domain.TxPending, domain.TxUnderReview)
		bad.EntityType = "typology"
		if err := repo.ApplyTransition(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("KYCStateColumn", func(t *testing.T) {
		s := &domain.Subject{
			ID:        "subj-001",
			KYCState:  domain.KYCNotSubmitted,
			RiskLevel: domain.RiskLow,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.SaveSubject(ctx, s); err != nil {
			t.Fatalf("SaveSubject failed: %v", err)
		}

		err := repo.ApplyTransition(ctx, &domain.AuditRecord{
			ID:         "audit-kyc-1",
			EntityType: domain.EntitySubject,
			EntityID:   s.ID,
			SubjectID:  s.ID,
			Action:     domain.ActionStateTransition,
			FromState:  string(domain.KYCNotSubmitted),
			ToState:    string(domain.KYCPending),
			ActorID:    s.ID,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("ApplyTransition failed: %v", err)
		}

		got, _ := repo.GetSubject(ctx, s.ID)
		if got.KYCState != domain.KYCPending {
			t.Errorf("kyc state not flipped, got %s", got.KYCState)
		}
	})
}

func TestAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := &domain.Alert{
		ID:        "alert-001",
		SubjectID: "subj-001",
		Type:      domain.AlertVelocityCount,
		Severity:  domain.SeverityMedium,
		Message:   "too many transactions",
		Details:   map[string]interface{}{"transactionCount": 4.0},
		Status:    domain.AlertOpen,
		CreatedAt: now,
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
		got, err := repo.GetAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if got.Type != domain.AlertVelocityCount || got.Details["transactionCount"] != 4.0 {
			t.Errorf("unexpected alert: %+v", got)
		}
	})

	t.Run("ListWithFilters", func(t *testing.T) {
		high := &domain.Alert{
			ID:        "alert-002",
			SubjectID: "subj-001",
			Type:      domain.AlertStructuring,
			Severity:  domain.SeverityHigh,
			Message:   "structuring",
			Status:    domain.AlertOpen,
			CreatedAt: now.Add(time.Second),
		}
		if err := repo.SaveAlert(ctx, high); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		alerts, total, err := repo.ListAlerts(ctx, domain.AlertFilters{Severity: domain.SeverityHigh}, 10, 0)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if total != 1 || len(alerts) != 1 || alerts[0].ID != "alert-002" {
			t.Errorf("filter failed: total=%d alerts=%v", total, alerts)
		}

		_, total, err = repo.ListAlerts(ctx, domain.AlertFilters{}, 10, 0)
		if err != nil || total != 2 {
			t.Errorf("expected 2 total, got %d (%v)", total, err)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		if err := repo.UpdateAlertStatus(ctx, alert.ID, domain.AlertResolved, "ops-1"); err != nil {
			t.Fatalf("UpdateAlertStatus failed: %v", err)
		}
		got, _ := repo.GetAlert(ctx, alert.ID)
		if got.Status != domain.AlertResolved || got.ReviewedBy != "ops-1" {
			t.Errorf("status not updated: %+v", got)
		}
	})

	t.Run("LinkToCaseOnce", func(t *testing.T) {
		if err := repo.LinkAlertToCase(ctx, alert.ID, "case-001"); err != nil {
			t.Fatalf("LinkAlertToCase failed: %v", err)
		}
		if err := repo.LinkAlertToCase(ctx, alert.ID, "case-002"); !errors.Is(err, domain.ErrAlertLinked) {
			t.Fatalf("expected ErrAlertLinked, got %v", err)
		}
		if err := repo.LinkAlertToCase(ctx, "alert-missing", "case-001"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		linked, err := repo.ListAlertsByCase(ctx, "case-001")
		if err != nil || len(linked) != 1 {
			t.Errorf("expected 1 linked alert, got %v (%v)", linked, err)
		}
	})
}

func TestCasesAndStatistics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("EmptyStatisticsZeroFilled", func(t *testing.T) {
		stats, err := repo.CaseStatistics(ctx)
		if err != nil {
			t.Fatalf("CaseStatistics failed: %v", err)
		}
		if stats.Total != 0 {
			t.Errorf("expected 0 total, got %d", stats.Total)
		}
		if len(stats.ByStatus) != 5 {
			t.Errorf("expected all 5 statuses present, got %v", stats.ByStatus)
		}
		if len(stats.BySeverity) != 3 {
			t.Errorf("expected all 3 severities present, got %v", stats.BySeverity)
		}
	})

	c := &domain.Case{
		ID:         "case-001",
		CaseNumber: "CASE-202608-0001",
		SubjectID:  "subj-001",
		Type:       domain.AlertStructuring,
		Severity:   domain.SeverityHigh,
		Status:     domain.CaseOpen,
		Title:      "Structuring pattern",
		CreatedBy:  "ops-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.Run("SaveGetUpdate", func(t *testing.T) {
		if err := repo.SaveCase(ctx, c); err != nil {
			t.Fatalf("SaveCase failed: %v", err)
		}
		got, err := repo.GetCase(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got.CaseNumber != c.CaseNumber || got.Status != domain.CaseOpen {
			t.Errorf("unexpected case: %+v", got)
		}

		got.AssignedTo = "inv-7"
		got.UpdatedAt = time.Now().UTC()
		if err := repo.UpdateCase(ctx, got); err != nil {
			t.Fatalf("UpdateCase failed: %v", err)
		}
		got, _ = repo.GetCase(ctx, c.ID)
		if got.AssignedTo != "inv-7" {
			t.Errorf("assignment not persisted: %+v", got)
		}
	})

	t.Run("CountCasesByPrefix", func(t *testing.T) {
		n, err := repo.CountCasesByPrefix(ctx, "CASE-202608")
		if err != nil || n != 1 {
			t.Errorf("expected 1, got %d (%v)", n, err)
		}
		n, err = repo.CountCasesByPrefix(ctx, "CASE-209901")
		if err != nil || n != 0 {
			t.Errorf("expected 0, got %d (%v)", n, err)
		}
	})

	t.Run("ActivityLog", func(t *testing.T) {
		a := &domain.CaseActivity{
			ID:        "act-001",
			CaseID:    c.ID,
			Type:      domain.ActivityCreated,
			ActorID:   "ops-1",
			Note:      "case opened",
			CreatedAt: now,
		}
		if err := repo.AppendCaseActivity(ctx, a); err != nil {
			t.Fatalf("AppendCaseActivity failed: %v", err)
		}
		log, err := repo.ListCaseActivity(ctx, c.ID)
		if err != nil || len(log) != 1 {
			t.Fatalf("expected 1 activity, got %v (%v)", log, err)
		}
	})

	t.Run("StatisticsCounts", func(t *testing.T) {
		stats, err := repo.CaseStatistics(ctx)
		if err != nil {
			t.Fatalf("CaseStatistics failed: %v", err)
		}
		if stats.Total != 1 || stats.ByStatus[domain.CaseOpen] != 1 || stats.BySeverity[domain.SeverityHigh] != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}
	})
}

func TestRiskScoresAndMatches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("ScoreHistoryIsAppendOnly", func(t *testing.T) {
		first := &domain.RiskScore{
			ID: "rs-1", SubjectID: "subj-001", Score: 30, Level: domain.RiskLow,
			Factors:      []domain.RiskFactor{{Type: "DUPLICATE_IDENTITY", Score: 30}},
			CalculatedAt: now.Add(-time.Minute), CalculatedBy: "detector:duplicate_identity",
		}
		second := &domain.RiskScore{
			ID: "rs-2", SubjectID: "subj-001", Score: 55, Level: domain.RiskMedium,
			CalculatedAt: now, CalculatedBy: "detector:duplicate_identity",
		}
		if err := repo.SaveRiskScore(ctx, first); err != nil {
			t.Fatalf("SaveRiskScore failed: %v", err)
		}
		if err := repo.SaveRiskScore(ctx, second); err != nil {
			t.Fatalf("SaveRiskScore failed: %v", err)
		}

		latest, err := repo.GetLatestRiskScore(ctx, "subj-001")
		if err != nil {
			t.Fatalf("GetLatestRiskScore failed: %v", err)
		}
		if latest.ID != "rs-2" || latest.Score != 55 {
			t.Errorf("expected latest rs-2, got %+v", latest)
		}
	})

	t.Run("MatchesAreReplaced", func(t *testing.T) {
		first := []*domain.IdentityMatch{
			{ID: "m1", SubjectID: "subj-001", MatchedSubjectID: "subj-002", Field: domain.MatchDocument, Weight: 30, CreatedAt: now},
			{ID: "m2", SubjectID: "subj-001", MatchedSubjectID: "subj-003", Field: domain.MatchEmail, Weight: 10, CreatedAt: now},
		}
		if err := repo.ReplaceIdentityMatches(ctx, "subj-001", first); err != nil {
			t.Fatalf("ReplaceIdentityMatches failed: %v", err)
		}

		replacement := []*domain.IdentityMatch{
			{ID: "m3", SubjectID: "subj-001", MatchedSubjectID: "subj-004", Field: domain.MatchPhone, Weight: 10, CountryMismatch: true, CreatedAt: now},
		}
		if err := repo.ReplaceIdentityMatches(ctx, "subj-001", replacement); err != nil {
			t.Fatalf("ReplaceIdentityMatches failed: %v", err)
		}

		got, err := repo.ListIdentityMatches(ctx, "subj-001")
		if err != nil {
			t.Fatalf("ListIdentityMatches failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "m3" || !got[0].CountryMismatch {
			t.Errorf("snapshot not replaced: %v", got)
		}
	})

	t.Run("ReplaceWithEmptyClears", func(t *testing.T) {
		if err := repo.ReplaceIdentityMatches(ctx, "subj-001", nil); err != nil {
			t.Fatalf("ReplaceIdentityMatches failed: %v", err)
		}
		got, _ := repo.ListIdentityMatches(ctx, "subj-001")
		if len(got) != 0 {
			t.Errorf("expected empty snapshot, got %v", got)
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Errorf("rebind postgres: got %q, want %q", got, want)
	}

	lite := &SQLRepository{driver: "sqlite"}
	query := "SELECT * FROM t WHERE a = ?"
	if got := lite.rebind(query); got != query {
		t.Errorf("rebind sqlite should be identity, got %q", got)
	}
}
