package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remitwatch/kestrel/internal/bus"
	"github.com/remitwatch/kestrel/internal/detector"
	"github.com/remitwatch/kestrel/internal/domain"
	"github.com/remitwatch/kestrel/internal/repository"
)

func newWorkerTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedBurst(t *testing.T, repo domain.Repository, subjectID string, count int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	subject := &domain.Subject{
		ID:             subjectID,
		DocumentNumber: "DOC-" + subjectID,
		Email:          subjectID + "@example.com",
		Phone:          "+15550001111",
		KYCState:       domain.KYCApproved,
		RiskLevel:      domain.RiskLow,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.SaveSubject(ctx, subject); err != nil {
		t.Fatalf("failed to seed subject: %v", err)
	}

	for i := 0; i < count; i++ {
		tx := &domain.Transaction{
			ID:        subjectID + "-tx-" + string(rune('a'+i)),
			SubjectID: subjectID,
			Amount:    100,
			Currency:  "USD",
			State:     domain.TxPending,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
			UpdatedAt: now,
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("failed to seed transaction: %v", err)
		}
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newWorkerTestRepo(t)
	runner := detector.NewRunner(repo, nil, eventBus, domain.DefaultDetectorConfig(), nil)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, runner, nil)

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("TriggerRunsDetectors", func(t *testing.T) {
		seedBurst(t, repo, "subj-burst", 4)

		w := NewWorker(eventBus, runner, nil)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		// Track raised alerts
		var alertReceived atomic.Bool
		eventBus.Subscribe(context.Background(), domain.TopicAlertRaised, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		payload, _ := json.Marshal(TriggerMessage{
			SubjectID:     "subj-burst",
			TransactionID: "subj-burst-tx-a",
		})
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionCreated, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(200 * time.Millisecond)

		alerts, total, err := repo.ListAlerts(context.Background(), domain.AlertFilters{SubjectID: "subj-burst"}, 10, 0)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if total == 0 {
			t.Fatal("expected at least one alert after trigger")
		}
		if alerts[0].Type != domain.AlertVelocityCount {
			t.Errorf("expected VELOCITY_COUNT alert, got %s", alerts[0].Type)
		}

		if !alertReceived.Load() {
			t.Error("expected alert event on the bus")
		}

		score, err := repo.GetLatestRiskScore(context.Background(), "subj-burst")
		if err != nil {
			t.Fatalf("GetLatestRiskScore failed: %v", err)
		}
		if score.Score <= 0 {
			t.Errorf("expected positive risk score, got %.1f", score.Score)
		}
	})

	t.Run("KYCTopicAlsoTriggers", func(t *testing.T) {
		seedBurst(t, repo, "subj-kyc", 1)

		w := NewWorker(eventBus, runner, nil)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		payload, _ := json.Marshal(TriggerMessage{SubjectID: "subj-kyc"})
		eventBus.Publish(context.Background(), domain.TopicKYCSubmitted, payload)

		time.Sleep(200 * time.Millisecond)

		score, err := repo.GetLatestRiskScore(context.Background(), "subj-kyc")
		if err != nil {
			t.Fatalf("expected a score entry after KYC trigger: %v", err)
		}
		if score.SubjectID != "subj-kyc" {
			t.Errorf("expected score for subj-kyc, got %s", score.SubjectID)
		}
	})

	t.Run("MalformedPayloadDropped", func(t *testing.T) {
		w := NewWorker(eventBus, runner, nil)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		// Neither of these should surface an error through the bus.
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionCreated, []byte("{not json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionCreated, []byte(`{"transactionId":"t1"}`)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)
	})

	t.Run("UnknownSubjectIsQuiet", func(t *testing.T) {
		w := NewWorker(eventBus, runner, nil)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		payload, _ := json.Marshal(TriggerMessage{SubjectID: "subj-ghost"})
		eventBus.Publish(context.Background(), domain.TopicTransactionCreated, payload)

		time.Sleep(100 * time.Millisecond)

		_, err := repo.GetLatestRiskScore(context.Background(), "subj-ghost")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown subject, got %v", err)
		}
	})
}

func TestTriggerMessageParsing(t *testing.T) {
	msg := TriggerMessage{
		SubjectID:     "subj-123",
		TransactionID: "tx-456",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed TriggerMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.SubjectID != msg.SubjectID {
		t.Errorf("expected SubjectID '%s', got '%s'", msg.SubjectID, parsed.SubjectID)
	}
	if parsed.TransactionID != msg.TransactionID {
		t.Errorf("expected TransactionID '%s', got '%s'", msg.TransactionID, parsed.TransactionID)
	}
}
