package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/authority-monitor/internal/db"
	"github.com/sells-group/authority-monitor/internal/model"
)

// PostgresStore implements Store using pgxpool. Bulk inserts use COPY.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scenario_runs (
	id         BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scenario_results (
	id                BIGSERIAL PRIMARY KEY,
	run_id            BIGINT NOT NULL REFERENCES scenario_runs(id),
	status            TEXT NOT NULL,
	authority_name    TEXT NOT NULL,
	subauthority_name TEXT NOT NULL DEFAULT '',
	service           TEXT NOT NULL DEFAULT '',
	action            TEXT NOT NULL,
	url               TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	scenario_type     TEXT NOT NULL,
	run_time_ms       DOUBLE PRECISION,
	expected          INTEGER,
	actual            INTEGER,
	target            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS performance_records (
	id                    BIGSERIAL PRIMARY KEY,
	authority             TEXT NOT NULL,
	action                TEXT NOT NULL,
	dt_stamp              TIMESTAMPTZ NOT NULL,
	action_time_ms        DOUBLE PRECISION NOT NULL,
	size_bytes            BIGINT NOT NULL,
	retrieve_time_ms      DOUBLE PRECISION NOT NULL,
	graph_load_time_ms    DOUBLE PRECISION NOT NULL,
	normalization_time_ms DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scenario_runs_created_at ON scenario_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_scenario_results_run_id ON scenario_results(run_id);
CREATE INDEX IF NOT EXISTS idx_performance_records_dt_stamp ON performance_records(dt_stamp);
CREATE INDEX IF NOT EXISTS idx_performance_records_authority ON performance_records(authority, action);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var resultCopyColumns = []string{
	"run_id", "status", "authority_name", "subauthority_name", "service", "action", "url",
	"error_message", "scenario_type", "run_time_ms", "expected", "actual", "target",
}

var performanceCopyColumns = []string{
	"authority", "action", "dt_stamp", "action_time_ms", "size_bytes",
	"retrieve_time_ms", "graph_load_time_ms", "normalization_time_ms",
}

func (s *PostgresStore) SaveRun(ctx context.Context, createdAt time.Time, results []model.ScenarioResult) (*model.ScenarioRun, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin save run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	run := &model.ScenarioRun{CreatedAt: createdAt.UTC()}
	if err := tx.QueryRow(ctx, `INSERT INTO scenario_runs (created_at) VALUES ($1) RETURNING id`,
		run.CreatedAt).Scan(&run.ID); err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	if _, err := db.CopyFromSlice(ctx, tx, "scenario_results", resultCopyColumns, results,
		func(r model.ScenarioResult) []any { return resultArgs(run.ID, r) }); err != nil {
		return nil, eris.Wrap(err, "postgres: copy results")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit run")
	}
	return run, nil
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*model.ScenarioRun, error) {
	return scanPgRun(s.pool.QueryRow(ctx,
		`SELECT id, created_at FROM scenario_runs ORDER BY id DESC LIMIT 1`), "latest run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID int64) (*model.ScenarioRun, error) {
	return scanPgRun(s.pool.QueryRow(ctx,
		`SELECT id, created_at FROM scenario_runs WHERE id = $1`, runID), "get run")
}

func scanPgRun(row pgx.Row, op string) (*model.ScenarioRun, error) {
	var run model.ScenarioRun
	if err := row.Scan(&run.ID, &run.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return &run, nil
}

const pgResultColumns = `id, run_id, status, authority_name, subauthority_name, service, action, url,
	error_message, scenario_type, run_time_ms, expected, actual, target`

func (s *PostgresStore) RunResults(ctx context.Context, runID int64) ([]model.ScenarioResult, error) {
	return s.queryResults(ctx, `SELECT `+pgResultColumns+`
		FROM scenario_results WHERE run_id = $1 ORDER BY id`, runID)
}

func (s *PostgresStore) RunFailures(ctx context.Context, runID int64) ([]model.ScenarioResult, error) {
	return s.queryResults(ctx, `SELECT `+pgResultColumns+`
		FROM scenario_results WHERE run_id = $1 AND status <> $2 ORDER BY id`, runID, string(model.StatusPass))
}

func (s *PostgresStore) queryResults(ctx context.Context, query string, args ...any) ([]model.ScenarioResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query results")
	}
	defer rows.Close()

	var out []model.ScenarioResult
	for rows.Next() {
		var r model.ScenarioResult
		var status, action, typ string
		var runTime *float64
		var expected, actual *int32
		if err := rows.Scan(&r.ID, &r.RunID, &status, &r.Authority, &r.Subauthority, &r.Service, &action,
			&r.URL, &r.ErrorMessage, &typ, &runTime, &expected, &actual, &r.Target); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		r.Status = model.ScenarioStatus(status)
		r.Action = model.Action(action)
		r.ScenarioType = model.ScenarioType(typ)
		if runTime != nil {
			r.RunTime = time.Duration(*runTime * float64(time.Millisecond))
		}
		if expected != nil {
			v := int(*expected)
			r.Expected = &v
		}
		if actual != nil {
			v := int(*actual)
			r.Actual = &v
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

func (s *PostgresStore) RunStatusCounts(ctx context.Context, runID int64) ([]model.StatusCount, error) {
	return s.queryCounts(ctx, `SELECT authority_name, status, COUNT(*)
		FROM scenario_results WHERE run_id = $1
		GROUP BY authority_name, status ORDER BY authority_name, status`, runID)
}

func (s *PostgresStore) StatusCountsSince(ctx context.Context, since time.Time) ([]model.StatusCount, error) {
	return s.queryCounts(ctx, `SELECT r.authority_name, r.status, COUNT(*)
		FROM scenario_results r JOIN scenario_runs s ON s.id = r.run_id
		WHERE s.created_at >= $1
		GROUP BY r.authority_name, r.status ORDER BY r.authority_name, r.status`, since.UTC())
}

func (s *PostgresStore) queryCounts(ctx context.Context, query string, args ...any) ([]model.StatusCount, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query status counts")
	}
	defer rows.Close()

	var out []model.StatusCount
	for rows.Next() {
		var c model.StatusCount
		var status string
		var n int64
		if err := rows.Scan(&c.Authority, &status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		c.Status = model.ScenarioStatus(status)
		c.Count = int(n)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate status counts")
}

func (s *PostgresStore) ResultsSince(ctx context.Context, since time.Time) ([]model.ResultRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT r.authority_name, r.status, r.error_message, s.created_at
		FROM scenario_results r JOIN scenario_runs s ON s.id = r.run_id
		WHERE s.created_at >= $1 ORDER BY r.id`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query results since")
	}
	defer rows.Close()

	var out []model.ResultRow
	for rows.Next() {
		var r model.ResultRow
		var status string
		if err := rows.Scan(&r.Authority, &status, &r.ErrorMessage, &r.RunAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result row")
		}
		r.Status = model.ScenarioStatus(status)
		r.RunAt = r.RunAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate result rows")
}

func (s *PostgresStore) SavePerformanceRecords(ctx context.Context, records []model.PerformanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save performance")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.CopyFromSlice(ctx, tx, "performance_records", performanceCopyColumns, records,
		func(r model.PerformanceRecord) []any {
			return []any{r.Authority, string(r.Action), r.Timestamp.UTC(), r.ActionTimeMS, r.SizeBytes,
				r.RetrieveTimeMS, r.GraphLoadTimeMS, r.NormalizationTimeMS}
		}); err != nil {
		return eris.Wrap(err, "postgres: copy performance records")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit performance")
}

func (s *PostgresStore) PerformanceRecords(ctx context.Context, f PerformanceFilter) ([]model.PerformanceRecord, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if a := f.authority(); a != "" {
		add("authority = $%d", a)
	}
	if a := f.action(); a != "" {
		add("action = $%d", a)
	}
	if !f.Since.IsZero() {
		add("dt_stamp >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("dt_stamp < $%d", f.Until.UTC())
	}
	query := `SELECT id, authority, action, dt_stamp, action_time_ms, size_bytes,
		retrieve_time_ms, graph_load_time_ms, normalization_time_ms FROM performance_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY dt_stamp, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query performance records")
	}
	defer rows.Close()

	var out []model.PerformanceRecord
	for rows.Next() {
		var r model.PerformanceRecord
		var action string
		if err := rows.Scan(&r.ID, &r.Authority, &action, &r.Timestamp, &r.ActionTimeMS, &r.SizeBytes,
			&r.RetrieveTimeMS, &r.GraphLoadTimeMS, &r.NormalizationTimeMS); err != nil {
			return nil, eris.Wrap(err, "postgres: scan performance record")
		}
		r.Action = model.Action(action)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate performance records")
}
