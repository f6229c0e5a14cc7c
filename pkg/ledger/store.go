package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed ledger.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a ledger store instance.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *Store) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping ledger database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordPort inserts an active ledger row for an allocated port. A port
// already active for the same host and project is left as is.
func (s *Store) RecordPort(ctx context.Context, rec *PortRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.AllocatedAt.IsZero() {
		rec.AllocatedAt = time.Now().UTC()
	}

	existing, err := s.activeOwner(ctx, rec.Host, rec.Port)
	if err != nil {
		return err
	}
	if existing != "" {
		if existing == rec.Project {
			return nil
		}
		return fmt.Errorf("port %d on %s is already recorded for %q", rec.Port, rec.Host, existing)
	}

	query := `
		INSERT INTO ports (id, host, project, environment, kind, port, allocated_at, released_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
	`
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Host, rec.Project, rec.Environment, rec.Kind, rec.Port, rec.AllocatedAt,
	); err != nil {
		return fmt.Errorf("failed to record port: %w", err)
	}
	return nil
}

// ReleasePort marks an active port row as released.
func (s *Store) ReleasePort(ctx context.Context, host string, port int) error {
	query := `
		UPDATE ports SET released_at = ?
		WHERE host = ? AND port = ? AND released_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), host, port)
	if err != nil {
		return fmt.Errorf("failed to release port: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("no active ledger entry for port %d on %s", port, host)
	}
	return nil
}

// ActivePorts returns the active ledger entries for a host as
// port -> owning project.
func (s *Store) ActivePorts(ctx context.Context, host string) (map[int]string, error) {
	query := `
		SELECT port, project FROM ports
		WHERE host = ? AND released_at IS NULL
	`
	rows, err := s.db.QueryContext(ctx, query, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list active ports: %w", err)
	}
	defer rows.Close()

	ports := make(map[int]string)
	for rows.Next() {
		var port int
		var project string
		if err := rows.Scan(&port, &project); err != nil {
			return nil, fmt.Errorf("failed to scan port row: %w", err)
		}
		ports[port] = project
	}
	return ports, rows.Err()
}

// activeOwner returns the project holding an active row for (host,
// port), or "".
func (s *Store) activeOwner(ctx context.Context, host string, port int) (string, error) {
	query := `
		SELECT project FROM ports
		WHERE host = ? AND port = ? AND released_at IS NULL
	`
	var project string
	err := s.db.QueryRowContext(ctx, query, host, port).Scan(&project)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query port row: %w", err)
	}
	return project, nil
}

// RecordRun inserts a provisioning run record.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO runs (id, host, project, status, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		run.ID, run.Host, run.Project, run.Status, run.Detail, run.StartedAt, run.FinishedAt,
	); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a host, newest first.
func (s *Store) ListRuns(ctx context.Context, host string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, host, project, status, detail, started_at, finished_at
		FROM runs
		WHERE host = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, host, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var detail sql.NullString
		if err := rows.Scan(&run.ID, &run.Host, &run.Project, &run.Status, &detail, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Detail = detail.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
