package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/cohort/internal/model"

	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-process database.
const MemoryDSN = ":memory:"

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    group_name  TEXT NOT NULL,
    task_count  INTEGER NOT NULL,
    completed   INTEGER NOT NULL DEFAULT 0,
    cancelled   INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createRunTasksTable = `
CREATE TABLE IF NOT EXISTS run_tasks (
    run_id      TEXT NOT NULL REFERENCES runs(id),
    seq         INTEGER NOT NULL,
    task_id     TEXT NOT NULL,
    name        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    arg         INTEGER NOT NULL,
    timeout_ms  INTEGER NOT NULL,
    status      TEXT NOT NULL,
    result      REAL,
    duration_ms INTEGER,
    started_at  DATETIME,
    finished_at DATETIME,
    PRIMARY KEY (run_id, seq)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dsn and creates the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createRunTasksTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// NewMemoryStore opens a history that is discarded when closed.
func NewMemoryStore() (*SQLiteStore, error) {
	return NewSQLiteStore(MemoryDSN)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run that has just started.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, group_name, task_count, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Group, r.TaskCount, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counts of a run and the outcome of every task in
// one transaction.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE runs SET completed = ?, cancelled = ?, duration_ms = ?, finished_at = ? WHERE id = ?`,
		r.Completed, r.Cancelled, r.DurationMS, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	for i, t := range r.Tasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_tasks (
				run_id, seq, task_id, name, kind, arg, timeout_ms, status,
				result, duration_ms, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, t.ID, t.Name, t.Kind, t.Arg, t.TimeoutMS, t.Status,
			t.Result, t.DurationMS, t.StartedAt, t.FinishedAt,
		); err != nil {
			return fmt.Errorf("insert run task %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const selectRun = `SELECT id, group_name, task_count, completed, cancelled,
	duration_ms, started_at, finished_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	r := &model.Run{}
	err := sc.Scan(
		&r.ID, &r.Group, &r.TaskCount, &r.Completed, &r.Cancelled,
		&r.DurationMS, &r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// GetRun retrieves a run by ID together with its task outcomes.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, name, kind, arg, timeout_ms, status, result,
			duration_ms, started_at, finished_at
		FROM run_tasks WHERE run_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("get run tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := model.TaskState{Group: r.Group}
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Kind, &t.Arg, &t.TimeoutMS, &t.Status, &t.Result,
			&t.DurationMS, &t.StartedAt, &t.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run task: %w", err)
		}
		r.Tasks = append(r.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run tasks: %w", err)
	}
	return r, nil
}

// ListRuns returns a page of runs ordered newest first, along with the total
// count. An empty group lists runs of every group.
func (s *SQLiteStore) ListRuns(ctx context.Context, group string, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where := ""
	args := []any{}
	if group != "" {
		where = " WHERE group_name = ?"
		args = append(args, group)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		selectRun+where+` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// GetRunStats computes aggregates over finished runs and their tasks.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	var avgRun sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(duration_ms) FROM runs WHERE finished_at IS NOT NULL`,
	).Scan(&stats.Runs, &avgRun); err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	stats.AvgRunMS = avgRun.Float64

	var avgTask sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(duration_ms) FROM run_tasks`,
	).Scan(&stats.Tasks, &avgTask); err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	stats.AvgTaskMS = avgTask.Float64

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}

	if stats.Tasks > 0 {
		stats.CancelledRatio = float64(stats.CountByStatus[model.StatusCancelled]) / float64(stats.Tasks)
	}
	return stats, nil
}

// countBy fills dst with run_tasks counts grouped by column. column is never
// caller-controlled.
func (s *SQLiteStore) countBy(ctx context.Context, column string, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM run_tasks GROUP BY %s", column, column),
	)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}
