package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"monay-hq/authz/pkg/policy/model"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It is suitable for single-instance deployments where usage must survive
// restarts. Amounts are stored as decimal strings so no precision is lost.
type SQLiteBackend struct {
	db                 *sql.DB
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	saveStmt   *sql.Stmt
	loadStmt   *sql.Stmt
	deleteStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
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

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS spend_limits (
		entity_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		limit_amount TEXT NOT NULL,
		current_usage TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (scope, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_spend_limits_entity ON spend_limits(entity_id);
	`)
	return err
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO spend_limits (entity_id, scope, limit_amount, current_usage, window_start, location, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, entity_id) DO UPDATE SET
			limit_amount = excluded.limit_amount,
			current_usage = excluded.current_usage,
			window_start = excluded.window_start,
			location = excluded.location,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT entity_id, scope, limit_amount, current_usage, window_start, location, updated_at
		FROM spend_limits
		WHERE entity_id = ? AND scope = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM spend_limits WHERE entity_id = ? AND scope = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT entity_id, scope, limit_amount, current_usage, window_start, location, updated_at
		FROM spend_limits
		WHERE scope = ?
		ORDER BY entity_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	return nil
}

// Save persists the state for its entity and scope.
func (s *SQLiteBackend) Save(ctx context.Context, state *model.SpendLimitState) error {
	if err := checkState(state); err != nil {
		return err
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.saveStmt.ExecContext(ctx,
		state.EntityID,
		string(state.Scope),
		state.Limit.String(),
		state.CurrentUsage.String(),
		state.WindowStart.UnixNano(),
		state.Location,
		updated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load retrieves the state for an entity and scope, or nil.
func (s *SQLiteBackend) Load(ctx context.Context, entityID string, scope model.LimitScope) (*model.SpendLimitState, error) {
	if err := checkKey(entityID, scope); err != nil {
		return nil, err
	}

	state, err := scanState(s.loadStmt.QueryRowContext(ctx, entityID, string(scope)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return state, nil
}

// Delete removes the state for an entity and scope.
func (s *SQLiteBackend) Delete(ctx context.Context, entityID string, scope model.LimitScope) error {
	if err := checkKey(entityID, scope); err != nil {
		return err
	}
	if _, err := s.deleteStmt.ExecContext(ctx, entityID, string(scope)); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List returns all states for a scope.
func (s *SQLiteBackend) List(ctx context.Context, scope model.LimitScope) ([]*model.SpendLimitState, error) {
	rows, err := s.listStmt.QueryContext(ctx, string(scope))
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	states := make([]*model.SpendLimitState, 0)
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return states, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*model.SpendLimitState, error) {
	var (
		entityID, scope, limitStr, usageStr, location string
		windowStart, updatedAt                        int64
	)
	if err := row.Scan(&entityID, &scope, &limitStr, &usageStr, &windowStart, &location, &updatedAt); err != nil {
		return nil, err
	}

	limit, err := model.ParseAmount(limitStr)
	if err != nil {
		return nil, err
	}
	usage, err := model.ParseAmount(usageStr)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if location != "" {
		if l, err := time.LoadLocation(location); err == nil {
			loc = l
		}
	}

	return &model.SpendLimitState{
		EntityID:     entityID,
		Scope:        model.LimitScope(scope),
		Limit:        limit,
		CurrentUsage: usage,
		WindowStart:  time.Unix(0, windowStart).In(loc),
		Location:     location,
		UpdatedAt:    time.Unix(0, updatedAt),
	}, nil
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.deleteStmt, s.listStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
