package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/frkl/viva/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements JournalStore using SQLite
type SQLiteStore struct {
	db    *sql.DB
	path  string
	actor string
	cfg   Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	Actor           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Actor == "" {
		cfg.Actor = "viva"
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path:  cfg.Path,
		actor: cfg.Actor,
		cfg:   cfg,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordSync stores one sync attempt.
func (s *SQLiteStore) RecordSync(ctx context.Context, rec engine.SyncRecord) error {
	query := `
		INSERT INTO sync_runs (id, env_id, env_path, spec_hash, spec, changed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	spec, err := json.Marshal(rec.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}
	specHash := rec.SpecHash
	if specHash == "" {
		specHash = rec.Spec.Hash()
	}

	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(),
		rec.EnvID,
		rec.EnvPath,
		specHash,
		string(spec),
		rec.Changed,
		errMsg,
		rec.StartedAt.UTC(),
		rec.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	return nil
}

// ListSyncRuns lists sync runs, newest first, optionally filtered by environment.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, envID *string, limit, offset int) ([]*SyncRun, error) {
	query := `
		SELECT id, env_id, env_path, spec_hash, spec, changed, error, started_at, completed_at
		FROM sync_runs
		WHERE (? IS NULL OR env_id = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, envID, envID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := []*SyncRun{}
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// LatestSyncRun returns the most recent sync run for an environment.
func (s *SQLiteStore) LatestSyncRun(ctx context.Context, envID string) (*SyncRun, error) {
	query := `
		SELECT id, env_id, env_path, spec_hash, spec, changed, error, started_at, completed_at
		FROM sync_runs
		WHERE env_id = ?
		ORDER BY started_at DESC
		LIMIT 1
	`

	run, err := scanSyncRun(s.db.QueryRowContext(ctx, query, envID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("no sync runs recorded").WithID(envID)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// DeleteSyncRuns removes the history of an environment.
func (s *SQLiteStore) DeleteSyncRuns(ctx context.Context, envID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE env_id = ?`, envID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sync runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// RecordAudit stores one registry mutation.
func (s *SQLiteStore) RecordAudit(ctx context.Context, rec engine.AuditRecord) error {
	entry := &AuditEntry{
		Action:    rec.Action,
		Actor:     s.actor,
		Timestamp: rec.Timestamp,
	}
	if rec.TargetID != "" {
		entry.TargetID = &rec.TargetID
	}
	if len(rec.Details) > 0 {
		details, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		str := string(details)
		entry.Details = &str
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return s.CreateAuditEntry(ctx, entry)
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first, with an optional action filter.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row rowScanner) (*SyncRun, error) {
	run := &SyncRun{}
	err := row.Scan(
		&run.ID,
		&run.EnvID,
		&run.EnvPath,
		&run.SpecHash,
		&run.Spec,
		&run.Changed,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}
	return run, nil
}

var _ JournalStore = (*SQLiteStore)(nil)
