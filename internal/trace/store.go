package trace

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/tandem/internal/lifecycle"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on events.stage
const currentSchemaVersion = 1

// ErrRunNotFound is returned by ReadRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Run is the journal entry for one execution of a plan.
type Run struct {
	ID         string    `json:"id"`
	Plan       string    `json:"plan"`
	Engine     string    `json:"engine"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Result     int64     `json:"result"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store is a SQLite run journal.
// Uses WAL mode so `tandem trace` can read while a run is being written.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Open is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WriteRun inserts r, or updates the entry with the same ID.
func (s *Store) WriteRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, plan, engine, status, error, result, steps, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			result = excluded.result,
			steps = excluded.steps,
			finished_at = excluded.finished_at
	`,
		r.ID,
		r.Plan,
		r.Engine,
		r.Status,
		r.Error,
		r.Result,
		r.Steps,
		r.StartedAt.UnixNano(),
		r.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteEvents appends events to run runID in a single transaction.
// Events already journaled under the same seq are ignored.
// The run must exist (foreign key constraint).
func (s *Store) WriteEvents(ctx context.Context, runID string, events []Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (run_id, seq, engine, stage, key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err = stmt.ExecContext(ctx, runID, e.Seq, e.Engine, e.Stage.String(), e.Key); err != nil {
			return fmt.Errorf("write event %d: %w", e.Seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// ReadRun returns the run with the given ID.
// Returns an error wrapping ErrRunNotFound if there is none.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan, engine, status, error, result, steps, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns all runs, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan, engine, status, error, result, steps, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ReadEvents returns the events of run runID ordered by seq.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT seq, engine, stage, key
		FROM events WHERE run_id = ? ORDER BY seq ASC
	`, runID)
}

// ReadStage returns the events of run runID at one lifecycle stage.
func (s *Store) ReadStage(ctx context.Context, runID string, stage lifecycle.Stage) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT seq, engine, stage, key
		FROM events WHERE run_id = ? AND stage = ? ORDER BY seq ASC
	`, runID, stage.String())
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e     Event
			stage string
		)
		if err := rows.Scan(&e.Seq, &e.Engine, &stage, &e.Key); err != nil {
			return nil, fmt.Errorf("read events: %w", err)
		}
		st, ok := lifecycle.ParseStage(stage)
		if !ok {
			return nil, fmt.Errorf("read events: seq %d has unknown stage %q", e.Seq, stage)
		}
		e.Stage = st
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		started, finished int64
	)
	if err := sc.Scan(&r.ID, &r.Plan, &r.Engine, &r.Status, &r.Error, &r.Result, &r.Steps, &started, &finished); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, started).UTC()
	r.FinishedAt = time.Unix(0, finished).UTC()
	return r, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes events by stage for `tandem trace --stage` filtering.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_stage ON events(run_id, stage)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// pragma returns the current value of a pragma. Used by tests.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query %s: %w", name, err)
	}
	return value, nil
}
