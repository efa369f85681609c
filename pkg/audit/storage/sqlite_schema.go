package storage

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema creates the audit tables. Timestamps are unix nanoseconds so that
// the stored instant round-trips exactly and record hashes stay valid.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    transaction_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    failure_code TEXT,
    required_signatures INTEGER NOT NULL DEFAULT 0,
    time_delay_seconds INTEGER NOT NULL DEFAULT 0,
    approver_roles TEXT,
    triggered_rule_ids TEXT,
    triggered_policy_ids TEXT,
    reasons TEXT,
    actions TEXT,
    actor TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    snapshot_version INTEGER NOT NULL DEFAULT 0,
    prev_hash TEXT,
    hash TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS audit_records_append_only
BEFORE UPDATE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are append-only');
END;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_transaction_id ON audit_records(transaction_id);
CREATE INDEX IF NOT EXISTS idx_audit_entity_id ON audit_records(entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_records(outcome);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion reads the newest schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
