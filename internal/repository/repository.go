// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/remitwatch/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// --- Subjects ---

// SaveSubject inserts or updates a subject.
func (r *SQLRepository) SaveSubject(ctx context.Context, s *domain.Subject) error {
	if s.ID == "" {
		return fmt.Errorf("%w: subject id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO subjects (
			id, document_number, email, phone, nationality, residence_country,
			kyc_state, risk_score, risk_level, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_number = excluded.document_number,
			email = excluded.email,
			phone = excluded.phone,
			nationality = excluded.nationality,
			residence_country = excluded.residence_country,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.DocumentNumber, s.Email, s.Phone,
		s.Nationality, s.ResidenceCountry,
		s.KYCState, s.RiskScore, s.RiskLevel,
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// GetSubject retrieves a subject by ID.
func (r *SQLRepository) GetSubject(ctx context.Context, id string) (*domain.Subject, error) {
	query := `
		SELECT id, document_number, email, phone, nationality, residence_country,
			   kyc_state, risk_score, risk_level, created_at, updated_at
		FROM subjects
		WHERE id = ?
	`

	var s domain.Subject
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&s.ID, &s.DocumentNumber, &s.Email, &s.Phone,
		&s.Nationality, &s.ResidenceCountry,
		&s.KYCState, &s.RiskScore, &s.RiskLevel,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSubjectRisk overwrites the subject's denormalized current risk.
func (r *SQLRepository) UpdateSubjectRisk(ctx context.Context, id string, score float64, level domain.RiskLevel) error {
	query := `UPDATE subjects SET risk_score = ?, risk_level = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), score, level, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) FindSubjectsByDocument(ctx context.Context, document, excludeID string) ([]*domain.Subject, error) {
	return r.findSubjectsBy(ctx, "document_number", document, excludeID)
}

func (r *SQLRepository) FindSubjectsByEmail(ctx context.Context, email, excludeID string) ([]*domain.Subject, error) {
	return r.findSubjectsBy(ctx, "email", email, excludeID)
}

func (r *SQLRepository) FindSubjectsByPhone(ctx context.Context, phone, excludeID string) ([]*domain.Subject, error) {
	return r.findSubjectsBy(ctx, "phone", phone, excludeID)
}

func (r *SQLRepository) findSubjectsBy(ctx context.Context, column, value, excludeID string) ([]*domain.Subject, error) {
	if value == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, document_number, email, phone, nationality, residence_country,
			   kyc_state, risk_score, risk_level, created_at, updated_at
		FROM subjects
		WHERE %s = ? AND id != ?
		ORDER BY created_at
	`, column)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), value, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []*domain.Subject
	for rows.Next() {
		var s domain.Subject
		if err := rows.Scan(
			&s.ID, &s.DocumentNumber, &s.Email, &s.Phone,
			&s.Nationality, &s.ResidenceCountry,
			&s.KYCState, &s.RiskScore, &s.RiskLevel,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		subjects = append(subjects, &s)
	}
	return subjects, rows.Err()
}

// --- Transactions ---

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" || tx.SubjectID == "" {
		return fmt.Errorf("%w: transaction id and subjectId are required", domain.ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, subject_id, recipient_id, recipient_country, amount, currency,
			state, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.SubjectID, tx.RecipientID, tx.RecipientCountry,
		tx.Amount, tx.Currency, tx.State, string(metadata),
		tx.CreatedAt, tx.UpdatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, subject_id, recipient_id, recipient_country, amount, currency,
			   state, metadata, created_at, updated_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.SubjectID, &tx.RecipientID, &tx.RecipientCountry,
		&tx.Amount, &tx.Currency, &tx.State, &metadata,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// GetTransactionsBySubject retrieves a subject's transactions since the
// given time, newest first.
func (r *SQLRepository) GetTransactionsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, subject_id, recipient_id, recipient_country, amount, currency,
			   state, metadata, created_at, updated_at
		FROM transactions
		WHERE subject_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), subjectID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var metadata string

		if err := rows.Scan(
			&tx.ID, &tx.SubjectID, &tx.RecipientID, &tx.RecipientCountry,
			&tx.Amount, &tx.Currency, &tx.State, &metadata,
			&tx.CreatedAt, &tx.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if metadata != "" {
			json.Unmarshal([]byte(metadata), &tx.Metadata)
		}

		transactions = append(transactions, &tx)
	}
	return transactions, rows.Err()
}

// transitionTargets maps an audited entity type to the table and state
// column ApplyTransition updates.
var transitionTargets = map[string]struct {
	table  string
	column string
}{
	domain.EntityTransaction: {"transactions", "state"},
	domain.EntitySubject:     {"subjects", "kyc_state"},
	domain.EntityCase:        {"cases", "status"},
}

// ApplyTransition flips the entity's state from rec.FromState to
// rec.ToState and appends the audit record, in one database transaction.
// The update is conditional on the current state still being FromState:
// of two racing attempts exactly one wins and the loser gets
// ErrStaleState. A failed audit insert rolls the state change back.
func (r *SQLRepository) ApplyTransition(ctx context.Context, rec *domain.AuditRecord) error {
	target, ok := transitionTargets[rec.EntityType]
	if !ok {
		return fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidInput, rec.EntityType)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStorageUnavailable, err)
	}
	defer dbTx.Rollback()

	update := fmt.Sprintf(
		`UPDATE %s SET %s = ?, updated_at = ? WHERE id = ? AND %s = ?`,
		target.table, target.column, target.column,
	)

	result, err := dbTx.ExecContext(ctx, r.rebind(update),
		rec.ToState, time.Now().UTC(), rec.EntityID, rec.FromState)
	if err != nil {
		return fmt.Errorf("%w: state update: %v", domain.ErrStorageUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing entity from a lost race.
		exists := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, target.table)
		var one int
		err := dbTx.QueryRowContext(ctx, r.rebind(exists), rec.EntityID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrStaleState
	}

	if err := r.insertAuditRecord(ctx, dbTx, rec); err != nil {
		return fmt.Errorf("%w: audit append: %v", domain.ErrStorageUnavailable, err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// --- Alerts ---

// SaveAlert stores an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	details, _ := json.Marshal(a.Details)

	query := `
		INSERT INTO alerts (
			id, subject_id, transaction_id, type, severity, message, details,
			status, reviewed_by, case_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.SubjectID, a.TransactionID, a.Type, a.Severity,
		a.Message, string(details), a.Status, a.ReviewedBy, a.CaseID,
		a.CreatedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `
		SELECT id, subject_id, transaction_id, type, severity, message, details,
			   status, reviewed_by, case_id, created_at
		FROM alerts
		WHERE id = ?
	`

	var a domain.Alert
	var details string

	err := r.db.QueryRowContext(ctx, r.rebind(query), alertID).Scan(
		&a.ID, &a.SubjectID, &a.TransactionID, &a.Type, &a.Severity,
		&a.Message, &details, &a.Status, &a.ReviewedBy, &a.CaseID,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if details != "" {
		json.Unmarshal([]byte(details), &a.Details)
	}

	return &a, nil
}

// ListAlerts retrieves alerts matching the filters, newest first, with the
// unpaginated total.
func (r *SQLRepository) ListAlerts(ctx context.Context, f domain.AlertFilters, limit, offset int) ([]*domain.Alert, int, error) {
	where, args := alertFilterClause(f)

	countQuery := `SELECT COUNT(*) FROM alerts` + where
	var total int
	if err := r.db.QueryRowContext(ctx, r.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, subject_id, transaction_id, type, severity, message, details,
			   status, reviewed_by, case_id, created_at
		FROM alerts` + where + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var details string
		if err := rows.Scan(
			&a.ID, &a.SubjectID, &a.TransactionID, &a.Type, &a.Severity,
			&a.Message, &details, &a.Status, &a.ReviewedBy, &a.CaseID,
			&a.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		if details != "" {
			json.Unmarshal([]byte(details), &a.Details)
		}
		alerts = append(alerts, &a)
	}
	return alerts, total, rows.Err()
}

func alertFilterClause(f domain.AlertFilters) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.SubjectID != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// UpdateAlertStatus sets the alert's review status and reviewer.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, alertID string, status domain.AlertStatus, reviewedBy string) error {
	query := `UPDATE alerts SET status = ?, reviewed_by = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, reviewedBy, alertID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LinkAlertToCase links an unlinked alert to a case. The update is
// conditional on the alert not already belonging to a case, so two
// concurrent case creations cannot both claim the same alert.
func (r *SQLRepository) LinkAlertToCase(ctx context.Context, alertID, caseID string) error {
	query := `UPDATE alerts SET case_id = ? WHERE id = ? AND (case_id IS NULL OR case_id = '')`

	result, err := r.db.ExecContext(ctx, r.rebind(query), caseID, alertID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetAlert(ctx, alertID); err != nil {
			return err
		}
		return domain.ErrAlertLinked
	}
	return nil
}

// ListAlertsByCase retrieves the alerts linked to a case.
func (r *SQLRepository) ListAlertsByCase(ctx context.Context, caseID string) ([]*domain.Alert, error) {
	query := `
		SELECT id, subject_id, transaction_id, type, severity, message, details,
			   status, reviewed_by, case_id, created_at
		FROM alerts
		WHERE case_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var details string
		if err := rows.Scan(
			&a.ID, &a.SubjectID, &a.TransactionID, &a.Type, &a.Severity,
			&a.Message, &details, &a.Status, &a.ReviewedBy, &a.CaseID,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		if details != "" {
			json.Unmarshal([]byte(details), &a.Details)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// --- Cases ---

// SaveCase stores a case.
func (r *SQLRepository) SaveCase(ctx context.Context, c *domain.Case) error {
	query := `
		INSERT INTO cases (
			id, case_number, subject_id, transaction_id, type, severity, status,
			title, description, assigned_to, resolved_by, resolution_notes,
			created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.CaseNumber, c.SubjectID, c.TransactionID,
		c.Type, c.Severity, c.Status,
		c.Title, c.Description, c.AssignedTo, c.ResolvedBy, c.ResolutionNotes,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `
		SELECT id, case_number, subject_id, transaction_id, type, severity, status,
			   title, description, assigned_to, resolved_by, resolution_notes,
			   created_by, created_at, updated_at
		FROM cases
		WHERE id = ?
	`

	var c domain.Case
	err := r.db.QueryRowContext(ctx, r.rebind(query), caseID).Scan(
		&c.ID, &c.CaseNumber, &c.SubjectID, &c.TransactionID,
		&c.Type, &c.Severity, &c.Status,
		&c.Title, &c.Description, &c.AssignedTo, &c.ResolvedBy, &c.ResolutionNotes,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCase overwrites a case's mutable fields.
func (r *SQLRepository) UpdateCase(ctx context.Context, c *domain.Case) error {
	query := `
		UPDATE cases SET
			severity = ?, status = ?, title = ?, description = ?,
			assigned_to = ?, resolved_by = ?, resolution_notes = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		c.Severity, c.Status, c.Title, c.Description,
		c.AssignedTo, c.ResolvedBy, c.ResolutionNotes, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListCases retrieves cases matching the filters, newest first, with the
// unpaginated total.
func (r *SQLRepository) ListCases(ctx context.Context, f domain.CaseFilters, limit, offset int) ([]*domain.Case, int, error) {
	var conds []string
	var args []interface{}

	if f.SubjectID != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.AssignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM cases` + where
	var total int
	if err := r.db.QueryRowContext(ctx, r.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, case_number, subject_id, transaction_id, type, severity, status,
			   title, description, assigned_to, resolved_by, resolution_notes,
			   created_by, created_at, updated_at
		FROM cases` + where + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(
			&c.ID, &c.CaseNumber, &c.SubjectID, &c.TransactionID,
			&c.Type, &c.Severity, &c.Status,
			&c.Title, &c.Description, &c.AssignedTo, &c.ResolvedBy, &c.ResolutionNotes,
			&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, &c)
	}
	return out, total, rows.Err()
}

// CountCasesByPrefix counts cases whose case number starts with the prefix.
// Used by the case manager to derive the next sequence number.
func (r *SQLRepository) CountCasesByPrefix(ctx context.Context, prefix string) (int, error) {
	query := `SELECT COUNT(*) FROM cases WHERE case_number LIKE ?`

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), prefix+"%").Scan(&n)
	return n, err
}

// AppendCaseActivity appends an entry to a case's activity log.
func (r *SQLRepository) AppendCaseActivity(ctx context.Context, a *domain.CaseActivity) error {
	query := `
		INSERT INTO case_activities (
			id, case_id, type, actor_id, note, old_value, new_value, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.CaseID, a.Type, a.ActorID, a.Note, a.OldValue, a.NewValue,
		a.CreatedAt,
	)
	return err
}

// ListCaseActivity retrieves a case's activity log in append order.
func (r *SQLRepository) ListCaseActivity(ctx context.Context, caseID string) ([]*domain.CaseActivity, error) {
	query := `
		SELECT id, case_id, type, actor_id, note, old_value, new_value, created_at
		FROM case_activities
		WHERE case_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*domain.CaseActivity
	for rows.Next() {
		var a domain.CaseActivity
		if err := rows.Scan(
			&a.ID, &a.CaseID, &a.Type, &a.ActorID, &a.Note,
			&a.OldValue, &a.NewValue, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

// CaseStatistics counts cases by status and severity, zero-filled so an
// empty store still yields a complete response.
func (r *SQLRepository) CaseStatistics(ctx context.Context) (*domain.CaseStatistics, error) {
	stats := domain.NewCaseStatistics()

	rows, err := r.db.QueryContext(ctx, `SELECT status, severity, COUNT(*) FROM cases GROUP BY status, severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.CaseStatus
		var severity domain.Severity
		var count int
		if err := rows.Scan(&status, &severity, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.BySeverity[severity] += count
	}
	return stats, rows.Err()
}

// --- Risk scoring ---

// SaveRiskScore appends an entry to a subject's score history.
func (r *SQLRepository) SaveRiskScore(ctx context.Context, rs *domain.RiskScore) error {
	factors, _ := json.Marshal(rs.Factors)

	query := `
		INSERT INTO risk_scores (
			id, subject_id, score, level, factors, calculated_at, calculated_by
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, rs.SubjectID, rs.Score, rs.Level, string(factors),
		rs.CalculatedAt, rs.CalculatedBy,
	)
	return err
}

// GetLatestRiskScore retrieves the most recent score history entry.
func (r *SQLRepository) GetLatestRiskScore(ctx context.Context, subjectID string) (*domain.RiskScore, error) {
	query := `
		SELECT id, subject_id, score, level, factors, calculated_at, calculated_by
		FROM risk_scores
		WHERE subject_id = ?
		ORDER BY calculated_at DESC
		LIMIT 1
	`

	var rs domain.RiskScore
	var factors string

	err := r.db.QueryRowContext(ctx, r.rebind(query), subjectID).Scan(
		&rs.ID, &rs.SubjectID, &rs.Score, &rs.Level, &factors,
		&rs.CalculatedAt, &rs.CalculatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if factors != "" {
		json.Unmarshal([]byte(factors), &rs.Factors)
	}

	return &rs, nil
}

// ReplaceIdentityMatches replaces the subject's current match snapshot.
// Delete and insert run in one database transaction so readers never see
// a partial snapshot.
func (r *SQLRepository) ReplaceIdentityMatches(ctx context.Context, subjectID string, matches []*domain.IdentityMatch) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, r.rebind(`DELETE FROM identity_matches WHERE subject_id = ?`), subjectID); err != nil {
		return err
	}

	insert := `
		INSERT INTO identity_matches (
			id, subject_id, matched_subject_id, field, weight, country_mismatch, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, m := range matches {
		mismatch := 0
		if m.CountryMismatch {
			mismatch = 1
		}
		if _, err := dbTx.ExecContext(ctx, r.rebind(insert),
			m.ID, m.SubjectID, m.MatchedSubjectID, m.Field, m.Weight,
			mismatch, m.CreatedAt,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// ListIdentityMatches retrieves the subject's current match snapshot.
func (r *SQLRepository) ListIdentityMatches(ctx context.Context, subjectID string) ([]*domain.IdentityMatch, error) {
	query := `
		SELECT id, subject_id, matched_subject_id, field, weight, country_mismatch, created_at
		FROM identity_matches
		WHERE subject_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*domain.IdentityMatch
	for rows.Next() {
		var m domain.IdentityMatch
		var mismatch int
		if err := rows.Scan(
			&m.ID, &m.SubjectID, &m.MatchedSubjectID, &m.Field, &m.Weight,
			&mismatch, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.CountryMismatch = mismatch == 1
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

// --- Audit journal ---

// AppendAuditRecord appends an immutable record to the audit journal.
func (r *SQLRepository) AppendAuditRecord(ctx context.Context, rec *domain.AuditRecord) error {
	return r.insertAuditRecord(ctx, r.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) insertAuditRecord(ctx context.Context, db execer, rec *domain.AuditRecord) error {
	metadata, _ := json.Marshal(rec.Metadata)

	query := `
		INSERT INTO audit_records (
			id, entity_type, entity_id, subject_id, action,
			from_state, to_state, actor_id, reason, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.EntityType, rec.EntityID, rec.SubjectID, rec.Action,
		rec.FromState, rec.ToState, rec.ActorID, rec.Reason, string(metadata),
		rec.CreatedAt,
	)
	return err
}

// ListAuditRecords retrieves an entity's audit trail, newest first.
func (r *SQLRepository) ListAuditRecords(ctx context.Context, entityType, entityID string, limit, offset int) ([]*domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, entity_type, entity_id, subject_id, action,
			   from_state, to_state, actor_id, reason, metadata, created_at
		FROM audit_records
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityType, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var metadata string
		if err := rows.Scan(
			&rec.ID, &rec.EntityType, &rec.EntityID, &rec.SubjectID, &rec.Action,
			&rec.FromState, &rec.ToState, &rec.ActorID, &rec.Reason, &metadata,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if metadata != "" {
			json.Unmarshal([]byte(metadata), &rec.Metadata)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
