package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/authority-monitor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as UTC unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scenario_runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scenario_results (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            INTEGER NOT NULL REFERENCES scenario_runs(id),
	status            TEXT NOT NULL,
	authority_name    TEXT NOT NULL,
	subauthority_name TEXT NOT NULL DEFAULT '',
	service           TEXT NOT NULL DEFAULT '',
	action            TEXT NOT NULL,
	url               TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	scenario_type     TEXT NOT NULL,
	run_time_ms       REAL,
	expected          INTEGER,
	actual            INTEGER,
	target            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS performance_records (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	authority             TEXT NOT NULL,
	action                TEXT NOT NULL,
	dt_stamp              INTEGER NOT NULL,
	action_time_ms        REAL NOT NULL,
	size_bytes            INTEGER NOT NULL,
	retrieve_time_ms      REAL NOT NULL,
	graph_load_time_ms    REAL NOT NULL,
	normalization_time_ms REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scenario_runs_created_at ON scenario_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_scenario_results_run_id ON scenario_results(run_id);
CREATE INDEX IF NOT EXISTS idx_performance_records_dt_stamp ON performance_records(dt_stamp);
CREATE INDEX IF NOT EXISTS idx_performance_records_authority ON performance_records(authority, action);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return eris.Wrap(err, "sqlite: ping")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// toNanos maps the zero time to the smallest value so "since zero" matches
// every row.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *SQLiteStore) SaveRun(ctx context.Context, createdAt time.Time, results []model.ScenarioResult) (*model.ScenarioRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin save run")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `INSERT INTO scenario_runs (created_at) VALUES (?)`, toNanos(createdAt))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: run id")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scenario_results
		(run_id, status, authority_name, subauthority_name, service, action, url,
		 error_message, scenario_type, run_time_ms, expected, actual, target)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare insert result")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, resultArgs(runID, r)...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert result for %s", r.Authority)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit run")
	}
	return &model.ScenarioRun{ID: runID, CreatedAt: createdAt.UTC()}, nil
}

func resultArgs(runID int64, r model.ScenarioResult) []any {
	var runTime, expected, actual any
	if r.RunTime > 0 {
		runTime = float64(r.RunTime) / float64(time.Millisecond)
	}
	if r.Expected != nil {
		expected = int64(*r.Expected)
	}
	if r.Actual != nil {
		actual = int64(*r.Actual)
	}
	return []any{
		runID, string(r.Status), r.Authority, r.Subauthority, r.Service, string(r.Action), r.URL,
		r.ErrorMessage, string(r.ScenarioType), runTime, expected, actual, r.Target,
	}
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*model.ScenarioRun, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM scenario_runs ORDER BY id DESC LIMIT 1`), "latest run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID int64) (*model.ScenarioRun, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM scenario_runs WHERE id = ?`, runID), "get run")
}

func (s *SQLiteStore) scanRun(row *sql.Row, op string) (*model.ScenarioRun, error) {
	var run model.ScenarioRun
	var created int64
	if err := row.Scan(&run.ID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	run.CreatedAt = fromNanos(created)
	return &run, nil
}

const sqliteResultColumns = `id, run_id, status, authority_name, subauthority_name, service, action, url,
	error_message, scenario_type, run_time_ms, expected, actual, target`

func (s *SQLiteStore) RunResults(ctx context.Context, runID int64) ([]model.ScenarioResult, error) {
	return s.queryResults(ctx, `SELECT `+sqliteResultColumns+`
		FROM scenario_results WHERE run_id = ? ORDER BY id`, runID)
}

func (s *SQLiteStore) RunFailures(ctx context.Context, runID int64) ([]model.ScenarioResult, error) {
	return s.queryResults(ctx, `SELECT `+sqliteResultColumns+`
		FROM scenario_results WHERE run_id = ? AND status <> ? ORDER BY id`, runID, string(model.StatusPass))
}

func (s *SQLiteStore) queryResults(ctx context.Context, query string, args ...any) ([]model.ScenarioResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScenarioResult
	for rows.Next() {
		var r model.ScenarioResult
		var status, action, typ string
		var runTime sql.NullFloat64
		var expected, actual sql.NullInt64
		if err := rows.Scan(&r.ID, &r.RunID, &status, &r.Authority, &r.Subauthority, &r.Service, &action,
			&r.URL, &r.ErrorMessage, &typ, &runTime, &expected, &actual, &r.Target); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r.Status = model.ScenarioStatus(status)
		r.Action = model.Action(action)
		r.ScenarioType = model.ScenarioType(typ)
		if runTime.Valid {
			r.RunTime = time.Duration(runTime.Float64 * float64(time.Millisecond))
		}
		if expected.Valid {
			v := int(expected.Int64)
			r.Expected = &v
		}
		if actual.Valid {
			v := int(actual.Int64)
			r.Actual = &v
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

func (s *SQLiteStore) RunStatusCounts(ctx context.Context, runID int64) ([]model.StatusCount, error) {
	return s.queryCounts(ctx, `SELECT authority_name, status, COUNT(*)
		FROM scenario_results WHERE run_id = ?
		GROUP BY authority_name, status ORDER BY authority_name, status`, runID)
}

func (s *SQLiteStore) StatusCountsSince(ctx context.Context, since time.Time) ([]model.StatusCount, error) {
	return s.queryCounts(ctx, `SELECT r.authority_name, r.status, COUNT(*)
		FROM scenario_results r JOIN scenario_runs s ON s.id = r.run_id
		WHERE s.created_at >= ?
		GROUP BY r.authority_name, r.status ORDER BY r.authority_name, r.status`, toNanos(since))
}

func (s *SQLiteStore) queryCounts(ctx context.Context, query string, args ...any) ([]model.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query status counts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StatusCount
	for rows.Next() {
		var c model.StatusCount
		var status string
		if err := rows.Scan(&c.Authority, &status, &c.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		c.Status = model.ScenarioStatus(status)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate status counts")
}

func (s *SQLiteStore) ResultsSince(ctx context.Context, since time.Time) ([]model.ResultRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.authority_name, r.status, r.error_message, s.created_at
		FROM scenario_results r JOIN scenario_runs s ON s.id = r.run_id
		WHERE s.created_at >= ? ORDER BY r.id`, toNanos(since))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results since")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ResultRow
	for rows.Next() {
		var r model.ResultRow
		var status string
		var created int64
		if err := rows.Scan(&r.Authority, &status, &r.ErrorMessage, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result row")
		}
		r.Status = model.ScenarioStatus(status)
		r.RunAt = fromNanos(created)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate result rows")
}

func (s *SQLiteStore) SavePerformanceRecords(ctx context.Context, records []model.PerformanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save performance")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO performance_records
		(authority, action, dt_stamp, action_time_ms, size_bytes, retrieve_time_ms, graph_load_time_ms, normalization_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert performance")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Authority, string(r.Action), toNanos(r.Timestamp),
			r.ActionTimeMS, r.SizeBytes, r.RetrieveTimeMS, r.GraphLoadTimeMS, r.NormalizationTimeMS); err != nil {
			return eris.Wrap(err, "sqlite: insert performance record")
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit performance")
	}
	return nil
}

func (s *SQLiteStore) PerformanceRecords(ctx context.Context, f PerformanceFilter) ([]model.PerformanceRecord, error) {
	var where []string
	var args []any
	if a := f.authority(); a != "" {
		where = append(where, "authority = ?")
		args = append(args, a)
	}
	if a := f.action(); a != "" {
		where = append(where, "action = ?")
		args = append(args, a)
	}
	if !f.Since.IsZero() {
		where = append(where, "dt_stamp >= ?")
		args = append(args, toNanos(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "dt_stamp < ?")
		args = append(args, toNanos(f.Until))
	}
	query := `SELECT id, authority, action, dt_stamp, action_time_ms, size_bytes,
		retrieve_time_ms, graph_load_time_ms, normalization_time_ms FROM performance_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY dt_stamp, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query performance records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PerformanceRecord
	for rows.Next() {
		var r model.PerformanceRecord
		var action string
		var stamp int64
		if err := rows.Scan(&r.ID, &r.Authority, &action, &stamp, &r.ActionTimeMS, &r.SizeBytes,
			&r.RetrieveTimeMS, &r.GraphLoadTimeMS, &r.NormalizationTimeMS); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan performance record")
		}
		r.Action = model.Action(action)
		r.Timestamp = fromNanos(stamp)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate performance records")
}
