package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/blocksched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// An in-memory database lives per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	state := run.State
	if state == "" {
		state = model.RunStateRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, program, state, ticks, retired, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Program, string(state), run.Ticks, run.Retired,
		run.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)
	return scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, program, state, ticks, retired, created_at, completed_at
		 FROM runs WHERE id = ?`, id))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, program, state, ticks, retired, created_at, completed_at
		 FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRunTicks(ctx context.Context, id string, ticks int) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id, "ticks", ticks)
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET ticks = ? WHERE id = ?`, ticks, id)
	return err
}

// FinishRun moves a running run into a terminal state.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, state model.RunState, ticks int, at time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id, "state", state)

	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run == nil {
		return model.NewNotFoundError("Run", id)
	}
	if !run.State.CanTransitionTo(state) {
		return &model.InvalidTransitionError{
			Entity: "Run", ID: id, From: run.State.String(), To: state.String(),
		}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, ticks = ?, completed_at = ? WHERE id = ?`,
		string(state), ticks, at.Format(time.RFC3339Nano), id)
	return err
}

// --- Retired threads ---

// RecordRetired stores threads and bumps their runs' retired counters in one
// transaction.
func (s *SQLiteStore) RecordRetired(ctx context.Context, threads []*model.RetiredThread) error {
	if len(threads) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "retired_threads", "count", len(threads))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO retired_threads (run_id, thread_id, target, top_block, killed, tick, retired_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer insert.Close()

	perRun := make(map[string]int)
	for _, th := range threads {
		if _, err := insert.ExecContext(ctx,
			th.RunID, th.ThreadID, th.Target, th.TopBlock, boolToInt(th.Killed), th.Tick,
			th.RetiredAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert thread %s: %w", th.ThreadID, err)
		}
		perRun[th.RunID]++
	}
	for runID, n := range perRun {
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET retired = retired + ? WHERE id = ?`, n, runID); err != nil {
			return fmt.Errorf("update run %s: %w", runID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListRetired(ctx context.Context, runID string, opts model.ListOptions) ([]*model.RetiredThread, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "table", "retired_threads", "run_id", runID)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retired_threads WHERE run_id = ?`, runID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, thread_id, target, top_block, killed, tick, retired_at
		 FROM retired_threads WHERE run_id = ? ORDER BY seq LIMIT ? OFFSET ?`,
		runID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.RetiredThread
	for rows.Next() {
		var th model.RetiredThread
		var killed int
		var retiredAt string
		if err := rows.Scan(&th.RunID, &th.ThreadID, &th.Target, &th.TopBlock,
			&killed, &th.Tick, &retiredAt); err != nil {
			return nil, 0, err
		}
		th.Killed = killed != 0
		th.RetiredAt, _ = time.Parse(time.RFC3339Nano, retiredAt)
		out = append(out, &th)
	}
	return out, total, rows.Err()
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var state, createdAt string
	var completedAt *string

	err := row.Scan(&run.ID, &run.Program, &state, &run.Ticks, &run.Retired, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.State = model.RunState(state)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
