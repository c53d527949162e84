// Package cases provides the investigation case manager: case creation,
// alert promotion, assignment, guarded status workflow and the activity log.
package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remitwatch/kestrel/internal/domain"
	"github.com/remitwatch/kestrel/internal/lifecycle"
)

// Manager coordinates case workflow. Status changes go through the case
// lifecycle machine and are committed by the repository together with
// their audit record, so a case state change without an audit trail
// cannot happen.
type Manager struct {
	repo    domain.Repository
	machine *lifecycle.Machine[domain.CaseStatus]
	sink    domain.AuditSink
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewManager creates a case manager. bus may be nil; case-opened events
// are then skipped.
func NewManager(repo domain.Repository, sink domain.AuditSink, bus domain.EventBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:    repo,
		machine: lifecycle.NewCaseMachine(sink),
		sink:    sink,
		bus:     bus,
		logger:  logger,
	}
}

// AttachGuards compiles and registers configured CEL guards for the case
// workflow. Guards for other entities are skipped.
func (m *Manager) AttachGuards(guards []domain.GuardConfig) error {
	return lifecycle.AttachConfigGuards(m.machine, guards)
}

// CreateCaseInput holds the fields for opening a case.
type CreateCaseInput struct {
	SubjectID     string
	TransactionID string
	Type          domain.AlertType
	Severity      domain.Severity
	Title         string
	Description   string
	CreatorID     string

	// AlertIDs are linked to the new case. An alert belongs to at most
	// one case; a request naming an already-linked alert is rejected.
	AlertIDs []string
}

// CreateCase opens a case in OPEN status with a sortable, unique case
// number, links the given alerts, and appends the CREATED activity entry.
func (m *Manager) CreateCase(ctx context.Context, in CreateCaseInput) (*domain.Case, error) {
	if strings.TrimSpace(in.SubjectID) == "" || strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.CreatorID) == "" {
		return nil, fmt.Errorf("%w: subjectId, title and creatorId are required", domain.ErrInvalidInput)
	}

	// Reject already-linked alerts up front, before anything is written.
	for _, alertID := range in.AlertIDs {
		alert, err := m.repo.GetAlert(ctx, alertID)
		if err != nil {
			return nil, fmt.Errorf("alert %s: %w", alertID, err)
		}
		if alert.CaseID != "" {
			return nil, fmt.Errorf("alert %s: %w", alertID, domain.ErrAlertLinked)
		}
	}

	now := time.Now().UTC()
	number, err := m.nextCaseNumber(ctx, now)
	if err != nil {
		return nil, err
	}

	c := &domain.Case{
		ID:            uuid.New().String(),
		CaseNumber:    number,
		SubjectID:     in.SubjectID,
		TransactionID: in.TransactionID,
		Type:          in.Type,
		Severity:      in.Severity,
		Status:        domain.CaseOpen,
		Title:         in.Title,
		Description:   in.Description,
		CreatedBy:     in.CreatorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.repo.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("save case: %w", err)
	}

	for _, alertID := range in.AlertIDs {
		if err := m.repo.LinkAlertToCase(ctx, alertID, c.ID); err != nil {
			return nil, fmt.Errorf("link alert %s: %w", alertID, err)
		}
		if err := m.repo.UpdateAlertStatus(ctx, alertID, domain.AlertUnderReview, in.CreatorID); err != nil {
			return nil, fmt.Errorf("alert %s status: %w", alertID, err)
		}
	}

	if err := m.appendActivity(ctx, c.ID, domain.ActivityCreated, in.CreatorID, "Case created", "", string(domain.CaseOpen)); err != nil {
		return nil, err
	}

	if err := m.sink.Append(ctx, &domain.AuditRecord{
		ID:         uuid.New().String(),
		EntityType: domain.EntityCase,
		EntityID:   c.ID,
		SubjectID:  c.SubjectID,
		Action:     domain.ActionCaseActivity,
		ToState:    string(domain.CaseOpen),
		ActorID:    in.CreatorID,
		Reason:     "case opened",
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("audit case creation: %w", err)
	}

	m.publishOpened(ctx, c)

	m.logger.Info("case opened",
		"case_id", c.ID,
		"case_number", c.CaseNumber,
		"subject_id", c.SubjectID,
		"severity", c.Severity,
		"linked_alerts", len(in.AlertIDs))

	return c, nil
}

// CreateCaseFromAlert promotes an alert to a case, deriving the case's
// type, severity and title from the alert and linking it.
func (m *Manager) CreateCaseFromAlert(ctx context.Context, alertID, creatorID string) (*domain.Case, error) {
	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", alertID, err)
	}

	return m.CreateCase(ctx, CreateCaseInput{
		SubjectID:     alert.SubjectID,
		TransactionID: alert.TransactionID,
		Type:          alert.Type,
		Severity:      alert.Severity,
		Title:         fmt.Sprintf("%s alert for subject %s", alert.Type, alert.SubjectID),
		Description:   alert.Message,
		CreatorID:     creatorID,
		AlertIDs:      []string{alertID},
	})
}

// AssignCase sets the case's assignee and records an ASSIGNED activity.
func (m *Manager) AssignCase(ctx context.Context, caseID, assigneeID, actorID string) (*domain.Case, error) {
	if strings.TrimSpace(assigneeID) == "" {
		return nil, fmt.Errorf("%w: assignee is required", domain.ErrInvalidInput)
	}

	c, err := m.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	previous := c.AssignedTo
	c.AssignedTo = assigneeID
	c.UpdatedAt = time.Now().UTC()

	if err := m.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}

	if err := m.appendActivity(ctx, c.ID, domain.ActivityAssigned, actorID,
		fmt.Sprintf("Assigned to %s", assigneeID), previous, assigneeID); err != nil {
		return nil, err
	}

	return c, nil
}

// UpdateStatus moves a case through its lifecycle. The transition is
// validated by the case machine; on success the status flip and its audit
// record are committed atomically, then a STATUS_CHANGED activity is
// appended.
func (m *Manager) UpdateStatus(ctx context.Context, caseID string, to domain.CaseStatus, actorID, reason string) (*domain.Case, lifecycle.Result, error) {
	c, err := m.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, lifecycle.Result{}, err
	}

	tctx := lifecycle.Context{
		EntityID:  c.ID,
		SubjectID: c.SubjectID,
		ActorID:   actorID,
		Reason:    reason,
	}

	res := m.machine.ValidateTransition(c.Status, to, tctx)
	if !res.Valid {
		return c, res, nil
	}

	from := c.Status
	if err := m.repo.ApplyTransition(ctx, m.machine.Record(from, to, tctx)); err != nil {
		return nil, lifecycle.Result{}, fmt.Errorf("apply case transition: %w", err)
	}

	c.Status = to
	c.UpdatedAt = time.Now().UTC()

	if err := m.appendActivity(ctx, c.ID, domain.ActivityStatusChanged, actorID, reason, string(from), string(to)); err != nil {
		return nil, lifecycle.Result{}, err
	}

	m.logger.Info("case status changed",
		"case_id", c.ID,
		"from", from,
		"to", to,
		"actor_id", actorID)

	return c, res, nil
}

// ResolveCase moves the case to RESOLVED with the mandatory resolution
// notes, records who resolved it, and appends a RESOLVED activity.
func (m *Manager) ResolveCase(ctx context.Context, caseID, resolverID, notes string) (*domain.Case, lifecycle.Result, error) {
	c, err := m.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, lifecycle.Result{}, err
	}

	tctx := lifecycle.Context{
		EntityID:  c.ID,
		SubjectID: c.SubjectID,
		ActorID:   resolverID,
		Reason:    notes,
	}

	res := m.machine.ValidateTransition(c.Status, domain.CaseResolved, tctx)
	if !res.Valid {
		return c, res, nil
	}

	from := c.Status
	if err := m.repo.ApplyTransition(ctx, m.machine.Record(from, domain.CaseResolved, tctx)); err != nil {
		return nil, lifecycle.Result{}, fmt.Errorf("apply case transition: %w", err)
	}

	c.Status = domain.CaseResolved
	c.ResolvedBy = resolverID
	c.ResolutionNotes = notes
	c.UpdatedAt = time.Now().UTC()

	if err := m.repo.UpdateCase(ctx, c); err != nil {
		return nil, lifecycle.Result{}, fmt.Errorf("update case: %w", err)
	}

	if err := m.appendActivity(ctx, c.ID, domain.ActivityResolved, resolverID, notes, string(from), string(domain.CaseResolved)); err != nil {
		return nil, lifecycle.Result{}, err
	}

	return c, res, nil
}

// AddNote appends a free-form NOTE_ADDED activity entry to the case.
func (m *Manager) AddNote(ctx context.Context, caseID, actorID, note string) error {
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("%w: note is required", domain.ErrInvalidInput)
	}
	if _, err := m.repo.GetCase(ctx, caseID); err != nil {
		return err
	}
	return m.appendActivity(ctx, caseID, domain.ActivityNoteAdded, actorID, note, "", "")
}

// Statistics returns case counts by status and by severity, zero-filled
// when no cases exist.
func (m *Manager) Statistics(ctx context.Context) (*domain.CaseStatistics, error) {
	return m.repo.CaseStatistics(ctx)
}

// AllowedTransitions exposes the machine's adjacency for a status, for
// the API layer.
func (m *Manager) AllowedTransitions(from domain.CaseStatus) []domain.CaseStatus {
	return m.machine.AllowedTransitions(from)
}

func (m *Manager) nextCaseNumber(ctx context.Context, now time.Time) (string, error) {
	prefix := "CASE-" + now.Format("200601")
	n, err := m.repo.CountCasesByPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("case number sequence: %w", err)
	}
	return fmt.Sprintf("%s-%04d", prefix, n+1), nil
}

func (m *Manager) appendActivity(ctx context.Context, caseID string, typ domain.CaseActivityType, actorID, note, oldValue, newValue string) error {
	a := &domain.CaseActivity{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Type:      typ,
		ActorID:   actorID,
		Note:      note,
		OldValue:  oldValue,
		NewValue:  newValue,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.AppendCaseActivity(ctx, a); err != nil {
		return fmt.Errorf("append case activity: %w", err)
	}
	return nil
}

func (m *Manager) publishOpened(ctx context.Context, c *domain.Case) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.TopicCaseOpened, payload); err != nil {
		m.logger.Warn("case event publish failed", "case_id", c.ID, "error", err)
	}
}
