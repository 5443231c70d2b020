package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyItems bulk-inserts items into table with the COPY protocol, encoding
// each one through row as it is streamed. It works on a pool or inside a
// transaction. An encoding error aborts the copy.
func CopyItems[T any](ctx context.Context, q Querier, table string, columns []string, items []T, row func(T) ([]any, error)) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	src := pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
		vals, err := row(items[i])
		if err != nil {
			return nil, eris.Wrapf(err, "db: encode row %d", i)
		}
		if len(vals) != len(columns) {
			return nil, eris.Errorf("db: row %d has %d values for %d columns", i, len(vals), len(columns))
		}
		return vals, nil
	})

	n, err := q.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	if n != int64(len(items)) {
		return n, eris.Errorf("db: COPY INTO %s: copied %d of %d rows", table, n, len(items))
	}
	return n, nil
}
