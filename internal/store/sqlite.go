package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/placekit/placekit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// pragmas below are per connection
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	input      TEXT NOT NULL,
	raster     TEXT NOT NULL DEFAULT '',
	params     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	counts     TEXT NOT NULL DEFAULT '{}',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_rows (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row    INTEGER NOT NULL,
	loc_id TEXT NOT NULL,
	name   TEXT NOT NULL,
	status TEXT NOT NULL,
	found  INTEGER NOT NULL DEFAULT 0,
	error  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, row)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_command ON runs(command);
CREATE INDEX IF NOT EXISTS idx_run_rows_status ON run_rows(run_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run NewRun) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	params := ""
	if run.Params != nil {
		b, err := json.Marshal(run.Params)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal params")
		}
		params = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, input, raster, params, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, run.Command, run.Input, run.Raster, params, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Command:   run.Command,
		Input:     run.Input,
		Raster:    run.Raster,
		Params:    params,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CompleteRun stores the final counts. A non-nil runErr marks the run
// failed.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, counts model.RunCounts, runErr error) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}

	status := model.RunStatusComplete
	msg := ""
	if runErr != nil {
		status = model.RunStatusFailed
		msg = runErr.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET counts = ?, status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(countsJSON), string(status), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, command, input, raster, params, status, counts, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, command, input, raster, params, status, counts, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Command != "" {
		query += ` AND command = ?`
		args = append(args, filter.Command)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// RecordRows inserts row outcomes in one transaction. Recording the same
// row twice replaces it.
func (s *SQLiteStore) RecordRows(ctx context.Context, runID string, rows []model.RunRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO run_rows (run_id, row, loc_id, name, status, found, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare row insert")
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, r.Row, r.ID, r.Name, string(r.Status), r.Found, r.Error); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %d of run %s", r.Row, runID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit rows")
}

// ListRows returns the rows of a run in row order, optionally only those
// with the given status.
func (s *SQLiteStore) ListRows(ctx context.Context, runID string, status model.RowStatus) ([]model.RunRow, error) {
	query := `SELECT run_id, row, loc_id, name, status, found, error FROM run_rows WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY row`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list rows of run %s", runID)
	}
	defer rows.Close()

	var out []model.RunRow
	for rows.Next() {
		var r model.RunRow
		if err := rows.Scan(&r.RunID, &r.Row, &r.ID, &r.Name, &r.Status, &r.Found, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rows iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var countsJSON string

	err := row.Scan(&r.ID, &r.Command, &r.Input, &r.Raster, &r.Params, &r.Status, &countsJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(countsJSON), &r.Counts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal counts")
	}
	return &r, nil
}
