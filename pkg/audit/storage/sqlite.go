package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"monay-hq/authz/pkg/audit"
)

// SQLiteConfig contains configuration for the SQLite audit backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

const recordColumns = `id, transaction_id, entity_id, outcome, failure_code,
	required_signatures, time_delay_seconds, approver_roles,
	triggered_rule_ids, triggered_policy_ids, reasons, actions,
	actor, timestamp, snapshot_version, prev_hash, hash`

// SQLiteStorage implements audit.Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	insert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteStorage opens the database and applies the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	logger := slog.Default().With("component", "audit.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.insert, err = db.Prepare(`INSERT INTO audit_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, audit.NewStorageError("sqlite", "prepare", err)
	}

	logger.Info("SQLite audit storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return audit.NewStorageError("sqlite", "enable_wal", err)
		}
	}
	if s.config.BusyTimeout > 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
			return audit.NewStorageError("sqlite", "set_busy_timeout", err)
		}
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return audit.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return audit.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store appends a record.
func (s *SQLiteStorage) Store(ctx context.Context, r *audit.Record) error {
	approverRoles, _ := json.Marshal(r.ApproverRoles)
	ruleIDs, _ := json.Marshal(r.TriggeredRuleIDs)
	policyIDs, _ := json.Marshal(r.TriggeredPolicyIDs)
	reasons, _ := json.Marshal(r.Reasons)
	actions, _ := json.Marshal(r.Actions)

	_, err := s.insert.ExecContext(ctx,
		r.ID, r.TransactionID, r.EntityID, r.Outcome, nullString(r.FailureCode),
		r.RequiredSignatures, r.TimeDelaySeconds, string(approverRoles),
		string(ruleIDs), string(policyIDs), string(reasons), string(actions),
		r.Actor, r.Timestamp.UnixNano(), r.SnapshotVersion, nullString(r.PrevHash), r.Hash,
	)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return audit.NewStorageError("sqlite", "store", fmt.Errorf("%w: %s", audit.ErrDuplicateRecord, r.ID))
		}
		return audit.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns matching records.
func (s *SQLiteStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Record, error) {
	if err := audit.ValidateQuery(query); err != nil {
		return nil, err
	}

	where, args := buildWhereClause(query)
	sqlQuery := "SELECT " + recordColumns + " FROM audit_records"
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	if query.Descending() {
		sqlQuery += " ORDER BY timestamp DESC, seq DESC"
	} else {
		sqlQuery += " ORDER BY timestamp ASC, seq ASC"
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", query.EffectiveLimit())
	if query != nil && query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*audit.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, audit.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// Count returns the number of matching records.
func (s *SQLiteStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(query)
	sqlQuery := "SELECT COUNT(*) FROM audit_records"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, audit.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes matching records.
func (s *SQLiteStorage) Delete(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(query)
	sqlQuery := "DELETE FROM audit_records"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	res, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Close releases the prepared statement and the database handle.
func (s *SQLiteStorage) Close() error {
	if s.insert != nil {
		s.insert.Close()
	}
	if err := s.db.Close(); err != nil {
		return audit.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite audit storage closed")
	return nil
}

func buildWhereClause(query *audit.Query) (string, []interface{}) {
	if query == nil {
		return "", nil
	}
	var conditions []string
	var args []interface{}

	if query.TransactionID != "" {
		conditions = append(conditions, "transaction_id = ?")
		args = append(args, query.TransactionID)
	}
	if query.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, query.EntityID)
	}
	if query.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, query.Outcome)
	}
	if query.RuleID != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(triggered_rule_ids) WHERE value = ?)")
		args = append(args, query.RuleID)
	}
	if query.PolicyID != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(triggered_policy_ids) WHERE value = ?)")
		args = append(args, query.PolicyID)
	}
	if query.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.StartTime.UnixNano())
	}
	if query.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, query.EndTime.UnixNano())
	}

	return strings.Join(conditions, " AND "), args
}

func scanRecord(rows *sql.Rows) (*audit.Record, error) {
	var (
		r                                             audit.Record
		failureCode, prevHash                         sql.NullString
		approverRoles, ruleIDs, policyIDs, reasons, a sql.NullString
		ts                                            int64
	)
	err := rows.Scan(
		&r.ID, &r.TransactionID, &r.EntityID, &r.Outcome, &failureCode,
		&r.RequiredSignatures, &r.TimeDelaySeconds, &approverRoles,
		&ruleIDs, &policyIDs, &reasons, &a,
		&r.Actor, &ts, &r.SnapshotVersion, &prevHash, &r.Hash,
	)
	if err != nil {
		return nil, err
	}

	r.FailureCode = failureCode.String
	r.PrevHash = prevHash.String
	r.Timestamp = time.Unix(0, ts).UTC()

	for _, f := range []struct {
		src sql.NullString
		dst interface{}
	}{
		{approverRoles, &r.ApproverRoles},
		{ruleIDs, &r.TriggeredRuleIDs},
		{policyIDs, &r.TriggeredPolicyIDs},
		{reasons, &r.Reasons},
		{a, &r.Actions},
	} {
		if f.src.Valid && f.src.String != "" {
			if err := json.Unmarshal([]byte(f.src.String), f.dst); err != nil {
				return nil, fmt.Errorf("failed to decode record %s: %w", r.ID, err)
			}
		}
	}
	return &r, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
