package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into table using the COPY protocol and returns
// the number of rows written.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	if n != int64(len(rows)) {
		return n, eris.Errorf("db: COPY INTO %s wrote %d of %d rows", table, n, len(rows))
	}
	return n, nil
}

// CopyFromSlice maps items to rows with fn and bulk-inserts them.
func CopyFromSlice[T any](ctx context.Context, c Copier, table string, columns []string, items []T, fn func(T) []any) (int64, error) {
	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = fn(it)
	}
	return CopyFrom(ctx, c, table, columns, rows)
}
