// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Subject operations
	SaveSubject(ctx context.Context, s *Subject) error
	GetSubject(ctx context.Context, id string) (*Subject, error)
	UpdateSubjectRisk(ctx context.Context, id string, score float64, level RiskLevel) error

	// Identity-matching reads for the duplicate-identity detector.
	// All exclude the given subject and use normalized values.
	FindSubjectsByDocument(ctx context.Context, document, excludeID string) ([]*Subject, error)
	FindSubjectsByEmail(ctx context.Context, email, excludeID string) ([]*Subject, error)
	FindSubjectsByPhone(ctx context.Context, phone, excludeID string) ([]*Subject, error)

	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*Transaction, error)

	// ApplyTransition performs the conditional state update described by
	// the record (WHERE state = rec.FromState) together with the audit
	// append, in one storage transaction. Exactly one of two concurrent
	// attempts on the same entity wins; the loser gets ErrStaleState.
	// An audit write failure rolls the state update back.
	ApplyTransition(ctx context.Context, rec *AuditRecord) error

	// Alert operations
	SaveAlert(ctx context.Context, a *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, f AlertFilters, limit, offset int) ([]*Alert, int, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus, reviewedBy string) error
	LinkAlertToCase(ctx context.Context, alertID, caseID string) error
	ListAlertsByCase(ctx context.Context, caseID string) ([]*Alert, error)

	// Case operations
	SaveCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, caseID string) (*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	ListCases(ctx context.Context, f CaseFilters, limit, offset int) ([]*Case, int, error)
	CountCasesByPrefix(ctx context.Context, prefix string) (int, error)
	AppendCaseActivity(ctx context.Context, a *CaseActivity) error
	ListCaseActivity(ctx context.Context, caseID string) ([]*CaseActivity, error)
	CaseStatistics(ctx context.Context) (*CaseStatistics, error)

	// Risk scoring
	SaveRiskScore(ctx context.Context, rs *RiskScore) error
	GetLatestRiskScore(ctx context.Context, subjectID string) (*RiskScore, error)
	ReplaceIdentityMatches(ctx context.Context, subjectID string, matches []*IdentityMatch) error
	ListIdentityMatches(ctx context.Context, subjectID string) ([]*IdentityMatch, error)

	// Audit journal
	AppendAuditRecord(ctx context.Context, rec *AuditRecord) error
	ListAuditRecords(ctx context.Context, entityType, entityID string, limit, offset int) ([]*AuditRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
