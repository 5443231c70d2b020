package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/digest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// maxEntries <= 0 uses DefaultMaxEntries.
func NewSQLite(dsn string, maxEntries int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &SQLiteStore{db: db, maxEntries: maxEntries}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS history (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	url          TEXT NOT NULL,
	status       TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	batch_id     TEXT,
	result       TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_url ON history(url);
CREATE INDEX IF NOT EXISTS idx_history_batch_id ON history(batch_id);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at);
`

const (
	sqliteInsertHistory = `INSERT INTO history (id, url, status, failure_kind, batch_id, result, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqliteEvictHistory  = `DELETE FROM history WHERE seq NOT IN (SELECT seq FROM history ORDER BY created_at DESC, seq DESC LIMIT ?)`
	sqlitePruneBatches  = `DELETE FROM batches WHERE id NOT IN (SELECT DISTINCT batch_id FROM history WHERE batch_id IS NOT NULL)`
)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, r model.Result) error {
	prepare(&r)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertSQLite(ctx, tx, r, nil); err != nil {
		return err
	}
	if err := s.evict(ctx, tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, run model.BatchRun) error {
	prepareBatch(&run)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save batch")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, name, succeeded, failed, started_at, completed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Succeeded, run.Failed, run.StartedAt.UTC(), run.CompletedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert batch %s", run.ID)
	}
	for _, r := range run.Results {
		if err := insertSQLite(ctx, tx, r, &run.ID); err != nil {
			return err
		}
	}
	if err := s.evict(ctx, tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save batch")
}

func insertSQLite(ctx context.Context, tx *sql.Tx, r model.Result, batchID *string) error {
	resultJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = tx.ExecContext(ctx, sqliteInsertHistory,
		r.ID, r.URL, string(r.Status), string(r.FailureKind), batchID, string(resultJSON), r.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert history %s", r.URL)
}

func (s *SQLiteStore) evict(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, sqliteEvictHistory, s.maxEntries); err != nil {
		return eris.Wrap(err, "sqlite: evict history")
	}
	_, err := tx.ExecContext(ctx, sqlitePruneBatches)
	return eris.Wrap(err, "sqlite: prune batches")
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM history ORDER BY created_at DESC, seq DESC LIMIT ?`,
		limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list history")
	}
	return scanResults(rows)
}

func (s *SQLiteStore) Get(ctx context.Context, url string) (*model.Result, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM history WHERE url = ? ORDER BY created_at DESC, seq DESC LIMIT 1`,
		url,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "history for %s", url)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get history")
	}
	return decodeResult([]byte(raw))
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count history")
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.BatchRun, error) {
	var run model.BatchRun
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, succeeded, failed, started_at, completed_at FROM batches WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Name, &run.Succeeded, &run.Failed, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "batch %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get batch")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT result FROM history WHERE batch_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get batch results")
	}
	run.Results, err = scanResults(rows)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, limit int) ([]model.BatchRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, succeeded, failed, started_at, completed_at FROM batches ORDER BY started_at DESC LIMIT ?`,
		limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var out []model.BatchRun
	for rows.Next() {
		var run model.BatchRun
		if err := rows.Scan(&run.ID, &run.Name, &run.Succeeded, &run.Failed, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func scanResults(rows *sql.Rows) ([]model.Result, error) {
	defer rows.Close()

	var out []model.Result
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r, err := decodeResult([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

func decodeResult(raw []byte) (*model.Result, error) {
	var r model.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &r, nil
}
