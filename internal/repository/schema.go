package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaSubjects = `
CREATE TABLE IF NOT EXISTS subjects (
    id TEXT PRIMARY KEY,
    document_number TEXT NOT NULL,
    email TEXT NOT NULL,
    phone TEXT NOT NULL,
    nationality TEXT,
    residence_country TEXT,
    kyc_state TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL DEFAULT 'LOW',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subjects_document ON subjects(document_number);
CREATE INDEX IF NOT EXISTS idx_subjects_email ON subjects(email);
CREATE INDEX IF NOT EXISTS idx_subjects_phone ON subjects(phone);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    recipient_id TEXT,
    recipient_country TEXT,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    state TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_subject ON transactions(subject_id);
CREATE INDEX IF NOT EXISTS idx_transactions_subject_created ON transactions(subject_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(state);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    transaction_id TEXT,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    details TEXT,
    status TEXT NOT NULL,
    reviewed_by TEXT,
    case_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts(subject_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_case ON alerts(case_id);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    case_number TEXT NOT NULL UNIQUE,
    subject_id TEXT NOT NULL,
    transaction_id TEXT,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    assigned_to TEXT,
    resolved_by TEXT,
    resolution_notes TEXT,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_subject ON cases(subject_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_number ON cases(case_number);
`

const schemaCaseActivities = `
CREATE TABLE IF NOT EXISTS case_activities (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    type TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    note TEXT,
    old_value TEXT,
    new_value TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_activities_case ON case_activities(case_id, created_at);
`

const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    score REAL NOT NULL,
    level TEXT NOT NULL,
    factors TEXT,
    calculated_at TIMESTAMP NOT NULL,
    calculated_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_subject ON risk_scores(subject_id, calculated_at);
`

const schemaIdentityMatches = `
CREATE TABLE IF NOT EXISTS identity_matches (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    matched_subject_id TEXT NOT NULL,
    field TEXT NOT NULL,
    weight REAL NOT NULL,
    country_mismatch INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identity_matches_subject ON identity_matches(subject_id);
`

const schemaAuditRecords = `
CREATE TABLE IF NOT EXISTS audit_records (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    subject_id TEXT,
    action TEXT NOT NULL,
    from_state TEXT,
    to_state TEXT,
    actor_id TEXT NOT NULL,
    reason TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_records(entity_type, entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_records(subject_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSubjects,
		schemaTransactions,
		schemaAlerts,
		schemaCases,
		schemaCaseActivities,
		schemaRiskScores,
		schemaIdentityMatches,
		schemaAuditRecords,
	}
}
