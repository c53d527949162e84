// Package detector provides the risk signal detectors: independent,
// composable checks over a subject's recent activity that emit alerts.
package detector

import (
	"time"

	"github.com/google/uuid"
	"github.com/remitwatch/kestrel/internal/domain"
)

// Input is the read-only activity snapshot a detector run inspects. The
// runner fetches it once and fans it out, so detectors never touch storage.
type Input struct {
	SubjectID string
	Window    time.Duration
	Now       time.Time

	// Transactions is the subject's activity inside the trailing window,
	// newest first. May be nil when the historical read failed; detectors
	// degrade to "no alert" on missing data.
	Transactions []*domain.Transaction
}

// Detector inspects an activity snapshot and emits zero or more alerts.
// Implementations are pure functions of the input: no storage access, no
// errors - malformed or missing data yields no alert.
type Detector interface {
	Name() string
	Detect(in *Input) []*domain.Alert
}

func newAlert(in *Input, typ domain.AlertType, severity domain.Severity, txID, message string, details map[string]interface{}) *domain.Alert {
	return &domain.Alert{
		ID:            uuid.New().String(),
		SubjectID:     in.SubjectID,
		TransactionID: txID,
		Type:          typ,
		Severity:      severity,
		Message:       message,
		Details:       details,
		Status:        domain.AlertOpen,
		CreatedAt:     time.Now().UTC(),
	}
}

// inWindow reports whether the transaction falls inside the trailing window.
func inWindow(in *Input, tx *domain.Transaction) bool {
	if tx == nil {
		return false
	}
	return !tx.CreatedAt.Before(in.Now.Add(-in.Window))
}
