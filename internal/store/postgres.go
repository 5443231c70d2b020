package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-cli/internal/db"
	"github.com/sells-group/digest-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool       db.Pool
	closeFn    func()
	maxEntries int
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertHistory = `INSERT INTO history (id, url, status, failure_kind, batch_id, result, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	pgEvictHistory  = `DELETE FROM history WHERE seq NOT IN (SELECT seq FROM history ORDER BY created_at DESC, seq DESC LIMIT $1)`
	pgPruneBatches  = `DELETE FROM batches b WHERE NOT EXISTS (SELECT 1 FROM history h WHERE h.batch_id = b.id)`
	pgListHistory   = `SELECT result FROM history ORDER BY created_at DESC, seq DESC LIMIT $1`
	pgGetHistory    = `SELECT result FROM history WHERE url = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`
)

// historyColumns is the COPY column list for batch inserts.
var historyColumns = []string{"id", "url", "status", "failure_kind", "batch_id", "result", "created_at"}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_history": pgInsertHistory,
	"evict_history":  pgEvictHistory,
	"list_history":   pgListHistory,
	"get_history":    pgGetHistory,
}

// NewPostgres creates a PostgresStore with a connection pool. maxEntries <= 0
// uses DefaultMaxEntries.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, maxEntries int) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close, maxEntries), nil
}

func newPostgresStore(pool db.Pool, closeFn func(), maxEntries int) *PostgresStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &PostgresStore{pool: pool, closeFn: closeFn, maxEntries: maxEntries}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS history (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	url          TEXT NOT NULL,
	status       TEXT NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	batch_id     TEXT,
	result       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_url_created ON history(url, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_batch_id ON history(batch_id);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// inTx runs fn in a transaction, rolling back when fn fails.
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin %s", op)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit %s", op)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, r model.Result) error {
	prepare(&r)
	resultJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	return s.inTx(ctx, "save", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, pgInsertHistory,
			r.ID, r.URL, string(r.Status), string(r.FailureKind), nil, resultJSON, r.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert history %s", r.URL)
		}
		return s.evict(ctx, tx)
	})
}

func (s *PostgresStore) SaveBatch(ctx context.Context, run model.BatchRun) error {
	prepareBatch(&run)

	return s.inTx(ctx, "save batch", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO batches (id, name, succeeded, failed, started_at, completed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			run.ID, run.Name, run.Succeeded, run.Failed, run.StartedAt, run.CompletedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert batch %s", run.ID)
		}
		_, err = db.CopyItems(ctx, tx, "history", historyColumns, run.Results, func(r model.Result) ([]any, error) {
			resultJSON, err := json.Marshal(r)
			if err != nil {
				return nil, eris.Wrap(err, "postgres: marshal result")
			}
			return []any{r.ID, r.URL, string(r.Status), string(r.FailureKind), run.ID, resultJSON, r.CreatedAt}, nil
		})
		if err != nil {
			return err
		}
		return s.evict(ctx, tx)
	})
}

func (s *PostgresStore) evict(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, pgEvictHistory, s.maxEntries); err != nil {
		return eris.Wrap(err, "postgres: evict history")
	}
	_, err := tx.Exec(ctx, pgPruneBatches)
	return eris.Wrap(err, "postgres: prune batches")
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]model.Result, error) {
	rows, err := s.pool.Query(ctx, pgListHistory, limitOrDefault(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list history")
	}
	return collectResults(rows)
}

func (s *PostgresStore) Get(ctx context.Context, url string) (*model.Result, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, pgGetHistory, url).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "history for %s", url)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get history")
	}
	return decodeResult(raw)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM history`).Scan(&n)
	return int(n), eris.Wrap(err, "postgres: count history")
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.BatchRun, error) {
	var run model.BatchRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, succeeded, failed, started_at, completed_at FROM batches WHERE id = $1`,
		id,
	).Scan(&run.ID, &run.Name, &run.Succeeded, &run.Failed, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "batch %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}

	rows, err := s.pool.Query(ctx, `SELECT result FROM history WHERE batch_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get batch results")
	}
	run.Results, err = collectResults(rows)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, limit int) ([]model.BatchRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, succeeded, failed, started_at, completed_at FROM batches ORDER BY started_at DESC LIMIT $1`,
		limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.BatchRun
	for rows.Next() {
		var run model.BatchRun
		if err := rows.Scan(&run.ID, &run.Name, &run.Succeeded, &run.Failed, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func collectResults(rows pgx.Rows) ([]model.Result, error) {
	defer rows.Close()

	var out []model.Result
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		r, err := decodeResult(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}
