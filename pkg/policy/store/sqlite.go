package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"monay-hq/authz/pkg/policy/model"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend stores rules and policies as JSON documents with a version
// column used for compare-and-swap updates. Several processes may share one
// database file; a write based on a stale version is rejected.
type SQLiteBackend struct {
	db *sql.DB
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend opens (and if needed creates) the rule database.
func NewSQLiteBackend(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		active INTEGER NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS multisig_policies (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		enforced INTEGER NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Load(ctx context.Context) (*Bundle, error) {
	out := &Bundle{}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	err = scanBodies(rows, func(body []byte) error {
		var r model.Rule
		if err := decodeBody(body, &r); err != nil {
			return err
		}
		out.Rules = append(out.Rules, &r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT body FROM multisig_policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	err = scanBodies(rows, func(body []byte) error {
		var p model.MultisigPolicy
		if err := decodeBody(body, &p); err != nil {
			return err
		}
		out.Policies = append(out.Policies, &p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return out, nil
}

func (s *SQLiteBackend) PutRule(ctx context.Context, rule *model.Rule, expectedVersion int64) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule %q: %w", rule.ID, err)
	}
	return s.put(ctx, "rule", "rules", "active", rule.ID, rule.Version, int64(rule.Priority), rule.Active, body, rule.UpdatedAt, expectedVersion)
}

func (s *SQLiteBackend) PutPolicy(ctx context.Context, policy *model.MultisigPolicy, expectedVersion int64) error {
	body, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy %q: %w", policy.ID, err)
	}
	return s.put(ctx, "policy", "multisig_policies", "enforced", policy.ID, policy.Version, int64(policy.Priority), policy.Enforced, body, policy.UpdatedAt, expectedVersion)
}

func (s *SQLiteBackend) put(ctx context.Context, kind, table, flagColumn, id string, version, priority int64, flag bool, body []byte, updatedAt time.Time, expectedVersion int64) error {
	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO `+table+` (id, version, priority, `+flagColumn+`, body, updated_at)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			id, version, priority, flag, string(body), updatedAt.UnixNano())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE `+table+` SET version = ?, priority = ?, `+flagColumn+` = ?, body = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			version, priority, flag, string(body), updatedAt.UnixNano(), id, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s %q: %w", kind, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write %s %q: %w", kind, id, err)
	}
	if n == 1 {
		return nil
	}

	var actual int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM `+table+` WHERE id = ?`, id).Scan(&actual)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read %s %q: %w", kind, id, err)
	}
	if err := checkVersion(kind, id, exists, actual, expectedVersion); err != nil {
		return err
	}
	return fmt.Errorf("write of %s %q affected no rows", kind, id)
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func scanBodies(rows *sql.Rows, fn func([]byte) error) error {
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		if err := fn([]byte(body)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// decodeBody keeps numbers as json.Number so condition values do not pass
// through float64.
func decodeBody(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}
