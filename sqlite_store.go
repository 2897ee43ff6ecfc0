package exporter

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var _ MetricsStore = (*SQLiteStore)(nil)

// SQLiteStore provides a lightweight MetricsStore backed by SQLite. It
// mirrors the Postgres aggregation semantics and serves local runs and
// tests that do not need a Postgres server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open SQLite database. The schema must
// exist; see RunSQLiteMigrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// NewSQLiteInMemoryStore creates a private in-memory SQLite database and
// initializes the metadata schema.
func NewSQLiteInMemoryStore() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	_, _ = db.Exec("PRAGMA foreign_keys=ON;")
	_, _ = db.Exec("PRAGMA busy_timeout=5000;")
	// single connection keeps :memory: consistent across sessions
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := RunSQLiteMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// DB exposes the underlying handle for seeding fixtures.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) DagStateCounts(ctx context.Context) ([]DagStateCount, error) {
	const query = `
SELECT q.dag_id, q.state, q.cnt, d.owners
FROM (
	SELECT dag_id, state, COUNT(*) AS cnt
	FROM dag_run
	GROUP BY dag_id, state
) q
JOIN dag d ON d.dag_id = q.dag_id
ORDER BY q.dag_id, q.state`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dag state counts: %w", err)
	}
	defer rows.Close()

	var counts []DagStateCount
	for rows.Next() {
		var c DagStateCount
		if err := rows.Scan(&c.DagID, &c.State, &c.Count, &c.Owners); err != nil {
			return nil, fmt.Errorf("dag state counts: %w", err)
		}

		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func (s *SQLiteStore) DagDurations(ctx context.Context) ([]DagDuration, error) {
	// The run start is read off the task row itself, not the MIN alias:
	// the driver only converts TEXT timestamps whose column keeps a
	// TIMESTAMP decltype, and aggregate expressions lose it.
	const query = `
WITH latest_success AS (
	SELECT dag_id, MAX(execution_date) AS execution_date
	FROM dag_run
	WHERE state = 'success' AND end_date IS NOT NULL
	GROUP BY dag_id
), run_start AS (
	SELECT ls.dag_id, ls.execution_date, MIN(ti.start_date) AS min_start
	FROM latest_success ls
	JOIN task_instance ti
		ON ti.dag_id = ls.dag_id AND ti.execution_date = ls.execution_date
	GROUP BY ls.dag_id, ls.execution_date
)
SELECT DISTINCT rs.dag_id, ti.start_date, dr.end_date
FROM run_start rs
JOIN task_instance ti
	ON ti.dag_id = rs.dag_id
	AND ti.execution_date = rs.execution_date
	AND ti.start_date = rs.min_start
JOIN dag_run dr
	ON dr.dag_id = rs.dag_id AND dr.execution_date = rs.execution_date
ORDER BY rs.dag_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dag durations: %w", err)
	}
	defer rows.Close()

	var durations []DagDuration
	for rows.Next() {
		var d DagDuration
		if err := rows.Scan(&d.DagID, &d.StartDate, &d.EndDate); err != nil {
			return nil, fmt.Errorf("dag durations: %w", err)
		}

		durations = append(durations, d)
	}

	return durations, rows.Err()
}

func (s *SQLiteStore) TaskStateCounts(ctx context.Context) ([]TaskStateCount, error) {
	const query = `
SELECT q.dag_id, q.task_id, q.state, q.cnt, d.owners
FROM (
	SELECT dag_id, task_id, state, COUNT(*) AS cnt
	FROM task_instance
	GROUP BY dag_id, task_id, state
) q
JOIN dag d ON d.dag_id = q.dag_id
ORDER BY q.dag_id, q.task_id, q.state`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("task state counts: %w", err)
	}
	defer rows.Close()

	var counts []TaskStateCount
	for rows.Next() {
		var c TaskStateCount
		if err := rows.Scan(&c.DagID, &c.TaskID, &c.State, &c.Count, &c.Owners); err != nil {
			return nil, fmt.Errorf("task state counts: %w", err)
		}

		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func (s *SQLiteStore) TaskFailureCounts(ctx context.Context) ([]TaskFailureCount, error) {
	const query = `
SELECT dag_id, task_id, COUNT(*) AS cnt
FROM task_fail
GROUP BY dag_id, task_id
ORDER BY dag_id, task_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("task failure counts: %w", err)
	}
	defer rows.Close()

	var counts []TaskFailureCount
	for rows.Next() {
		var c TaskFailureCount
		if err := rows.Scan(&c.DagID, &c.TaskID, &c.Count); err != nil {
			return nil, fmt.Errorf("task failure counts: %w", err)
		}

		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func (s *SQLiteStore) TaskDurations(ctx context.Context) ([]TaskDuration, error) {
	const query = `
WITH latest_dag_success AS (
	SELECT dag_id, MAX(execution_date) AS execution_date
	FROM dag_run
	WHERE state = 'success' AND end_date IS NOT NULL
	GROUP BY dag_id
), latest_task_success AS (
	SELECT dag_id, task_id, MAX(execution_date) AS execution_date
	FROM task_instance
	WHERE state = 'success' AND start_date IS NOT NULL AND end_date IS NOT NULL
	GROUP BY dag_id, task_id
), latest AS (
	SELECT lts.dag_id, lts.task_id, lts.execution_date
	FROM latest_task_success lts
	JOIN latest_dag_success lds
		ON lds.dag_id = lts.dag_id AND lds.execution_date = lts.execution_date
)
SELECT l.dag_id, l.task_id, ti.start_date, ti.end_date, ti.execution_date
FROM latest l
JOIN task_instance ti
	ON ti.dag_id = l.dag_id
	AND ti.task_id = l.task_id
	AND ti.execution_date = l.execution_date
ORDER BY l.dag_id, l.task_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("task durations: %w", err)
	}
	defer rows.Close()

	var durations []TaskDuration
	for rows.Next() {
		var d TaskDuration
		if err := rows.Scan(&d.DagID, &d.TaskID, &d.StartDate, &d.EndDate, &d.ExecutionDate); err != nil {
			return nil, fmt.Errorf("task durations: %w", err)
		}

		durations = append(durations, d)
	}

	return durations, rows.Err()
}

func (s *SQLiteStore) DagSchedulerDelay(ctx context.Context, canaryDagID string) ([]DagDelaySample, error) {
	const query = `
SELECT dag_id, execution_date, start_date
FROM dag_run
WHERE dag_id = ?
ORDER BY execution_date DESC
LIMIT 1`

	rows, err := s.db.QueryContext(ctx, query, canaryDagID)
	if err != nil {
		return nil, fmt.Errorf("dag scheduler delay: %w", err)
	}
	defer rows.Close()

	var samples []DagDelaySample
	for rows.Next() {
		var d DagDelaySample
		if err := rows.Scan(&d.DagID, &d.ExecutionDate, &d.StartDate); err != nil {
			return nil, fmt.Errorf("dag scheduler delay: %w", err)
		}

		samples = append(samples, d)
	}

	return samples, rows.Err()
}

func (s *SQLiteStore) TaskSchedulerDelay(ctx context.Context, canaryDagID string) ([]TaskDelaySample, error) {
	// ti.start_date equals the MAX alias by the join predicate; selecting
	// the task column keeps its TIMESTAMP decltype for the driver.
	const query = `
WITH latest AS (
	SELECT queue, MAX(start_date) AS max_start
	FROM task_instance
	WHERE dag_id = ? AND queued_dttm IS NOT NULL
	GROUP BY queue
)
SELECT l.queue, ti.execution_date, ti.queued_dttm, ti.start_date
FROM latest l
JOIN task_instance ti
	ON ti.dag_id = ?
	AND ti.queue = l.queue
	AND ti.start_date = l.max_start
	AND ti.queued_dttm IS NOT NULL
ORDER BY l.queue`

	rows, err := s.db.QueryContext(ctx, query, canaryDagID, canaryDagID)
	if err != nil {
		return nil, fmt.Errorf("task scheduler delay: %w", err)
	}
	defer rows.Close()

	var samples []TaskDelaySample
	for rows.Next() {
		var t TaskDelaySample
		if err := rows.Scan(&t.Queue, &t.ExecutionDate, &t.QueuedAt, &t.StartDate); err != nil {
			return nil, fmt.Errorf("task scheduler delay: %w", err)
		}

		samples = append(samples, t)
	}

	return samples, rows.Err()
}

func (s *SQLiteStore) QueuedTaskCount(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM task_instance WHERE state = ?`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, StateQueued).Scan(&count); err != nil {
		return 0, fmt.Errorf("queued task count: %w", err)
	}

	return count, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
