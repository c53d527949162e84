// Package audit provides the audit sink implementations: the durable
// repository-backed journal and a best-effort event-bus mirror.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/remitwatch/kestrel/internal/domain"
)

// RepoSink appends audit records to the repository journal. An append
// failure is surfaced as ErrStorageUnavailable so callers abort the
// enclosing operation instead of committing an unaudited change.
type RepoSink struct {
	repo domain.Repository
}

// NewRepoSink creates a repository-backed audit sink.
func NewRepoSink(repo domain.Repository) *RepoSink {
	return &RepoSink{repo: repo}
}

// Append implements domain.AuditSink.
func (s *RepoSink) Append(ctx context.Context, rec *domain.AuditRecord) error {
	if err := s.repo.AppendAuditRecord(ctx, rec); err != nil {
		return fmt.Errorf("%w: audit append: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// BusMirror decorates a sink, mirroring every durably written record to
// the event bus for downstream consumers. The mirror is best-effort: a
// publish failure is logged and never fails the append.
type BusMirror struct {
	next   domain.AuditSink
	bus    domain.EventBus
	logger *slog.Logger
}

// NewBusMirror wraps a sink with an event-bus mirror.
func NewBusMirror(next domain.AuditSink, bus domain.EventBus, logger *slog.Logger) *BusMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusMirror{next: next, bus: bus, logger: logger}
}

// Append implements domain.AuditSink. The record is durably written first;
// only then is it mirrored.
func (m *BusMirror) Append(ctx context.Context, rec *domain.AuditRecord) error {
	if err := m.next.Append(ctx, rec); err != nil {
		return err
	}

	if m.bus == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn("audit record encode failed", "record_id", rec.ID, "error", err)
		return nil
	}
	if err := m.bus.Publish(ctx, domain.TopicAuditAppended, payload); err != nil {
		m.logger.Warn("audit mirror publish failed", "record_id", rec.ID, "error", err)
	}
	return nil
}
