// Package worker consumes detection triggers from the event bus and runs
// the detector pipeline, keeping detection fire-and-forget for the
// triggering request.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/remitwatch/kestrel/internal/detector"
	"github.com/remitwatch/kestrel/internal/domain"
)

// Worker subscribes to the detection trigger topics and feeds each message
// to the detector runner.
type Worker struct {
	bus    domain.EventBus
	runner *detector.Runner
	logger *slog.Logger

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a detection worker.
func NewWorker(bus domain.EventBus, runner *detector.Runner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction-created and KYC-submitted topics.
func (w *Worker) Start() error {
	for _, topic := range []string{domain.TopicTransactionCreated, domain.TopicKYCSubmitted} {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleMessage)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.logger.Info("detection worker started",
		"topics", []string{domain.TopicTransactionCreated, domain.TopicKYCSubmitted},
		"detectors", w.runner.Detectors(),
	)
	return nil
}

// TriggerMessage is the payload of a detection trigger event.
type TriggerMessage struct {
	SubjectID     string `json:"subjectId"`
	TransactionID string `json:"transactionId,omitempty"`
}

// handleMessage parses a trigger and runs the detector pipeline. A
// malformed message or a failed run is logged and dropped; the bus never
// sees an error that would fail the publishing operation.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var trigger TriggerMessage
	if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
		w.logger.Error("failed to parse trigger message",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return nil
	}
	if trigger.SubjectID == "" {
		w.logger.Warn("trigger message without subjectId dropped", "message_id", msg.ID)
		return nil
	}

	w.wg.Add(1)
	defer w.wg.Done()

	if err := w.runner.Evaluate(ctx, trigger.SubjectID, trigger.TransactionID); err != nil {
		w.logger.Warn("detector run not started",
			"subject_id", trigger.SubjectID,
			"error", err,
		)
		return nil
	}

	w.logger.Debug("detection trigger processed",
		"subject_id", trigger.SubjectID,
		"transaction_id", trigger.TransactionID,
		"topic", msg.Topic,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker, waiting for in-flight runs.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("detection worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
