package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var _ MetricsStore = (*PgStore)(nil)

const defaultQueryTimeout = 15 * time.Second

// PgStore reads orchestration state from the metadata database over a pgx
// connection pool. Each operation acquires one pooled connection for the
// duration of a single query and releases it on every exit path. A
// per-query timeout keeps a slow query from starving the HTTP server under
// overlapping scrapes.
type PgStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewPgStore(pool *pgxpool.Pool, opts ...StoreOption) *PgStore {
	store := &PgStore{
		pool:         pool,
		queryTimeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *PgStore) withConn(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(ctx, conn)
}

func (s *PgStore) DagStateCounts(ctx context.Context) ([]DagStateCount, error) {
	const query = `
SELECT q.dag_id, q.state, q.cnt, d.owners
FROM (
	SELECT dag_id, state, COUNT(*) AS cnt
	FROM dag_run
	GROUP BY dag_id, state
) q
JOIN dag d ON d.dag_id = q.dag_id
ORDER BY q.dag_id, q.state`

	var counts []DagStateCount

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c DagStateCount
			if err := rows.Scan(&c.DagID, &c.State, &c.Count, &c.Owners); err != nil {
				return err
			}

			counts = append(counts, c)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("dag state counts: %w", err)
	}

	return counts, nil
}

func (s *PgStore) DagDurations(ctx context.Context) ([]DagDuration, error) {
	// Latest successful run per DAG; ties on execution_date collapse in
	// the max-subquery. Run start is the earliest task start of that run.
	const query = `
WITH latest_success AS (
	SELECT dag_id, MAX(execution_date) AS execution_date
	FROM dag_run
	WHERE state = 'success' AND end_date IS NOT NULL
	GROUP BY dag_id
), run_start AS (
	SELECT ls.dag_id, ls.execution_date, MIN(ti.start_date) AS start_date
	FROM latest_success ls
	JOIN task_instance ti
		ON ti.dag_id = ls.dag_id AND ti.execution_date = ls.execution_date
	GROUP BY ls.dag_id, ls.execution_date
)
SELECT rs.dag_id, rs.start_date, dr.end_date
FROM run_start rs
JOIN dag_run dr
	ON dr.dag_id = rs.dag_id AND dr.execution_date = rs.execution_date
ORDER BY rs.dag_id`

	var durations []DagDuration

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d DagDuration
			if err := rows.Scan(&d.DagID, &d.StartDate, &d.EndDate); err != nil {
				return err
			}

			durations = append(durations, d)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("dag durations: %w", err)
	}

	return durations, nil
}

func (s *PgStore) TaskStateCounts(ctx context.Context) ([]TaskStateCount, error) {
	const query = `
SELECT q.dag_id, q.task_id, q.state, q.cnt, d.owners
FROM (
	SELECT dag_id, task_id, state, COUNT(*) AS cnt
	FROM task_instance
	GROUP BY dag_id, task_id, state
) q
JOIN dag d ON d.dag_id = q.dag_id
ORDER BY q.dag_id, q.task_id, q.state`

	var counts []TaskStateCount

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c TaskStateCount
			if err := rows.Scan(&c.DagID, &c.TaskID, &c.State, &c.Count, &c.Owners); err != nil {
				return err
			}

			counts = append(counts, c)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("task state counts: %w", err)
	}

	return counts, nil
}

func (s *PgStore) TaskFailureCounts(ctx context.Context) ([]TaskFailureCount, error) {
	const query = `
SELECT dag_id, task_id, COUNT(*) AS cnt
FROM task_fail
GROUP BY dag_id, task_id
ORDER BY dag_id, task_id`

	var counts []TaskFailureCount

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c TaskFailureCount
			if err := rows.Scan(&c.DagID, &c.TaskID, &c.Count); err != nil {
				return err
			}

			counts = append(counts, c)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("task failure counts: %w", err)
	}

	return counts, nil
}

func (s *PgStore) TaskDurations(ctx context.Context) ([]TaskDuration, error) {
	// Per (dag, task), the latest successful task execution restricted to
	// executions equal to the DAG-level latest successful run, joined back
	// to the task instance for its endpoints.
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

	var durations []TaskDuration

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d TaskDuration
			if err := rows.Scan(&d.DagID, &d.TaskID, &d.StartDate, &d.EndDate, &d.ExecutionDate); err != nil {
				return err
			}

			durations = append(durations, d)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("task durations: %w", err)
	}

	return durations, nil
}

func (s *PgStore) DagSchedulerDelay(ctx context.Context, canaryDagID string) ([]DagDelaySample, error) {
	const query = `
SELECT dag_id, execution_date, start_date
FROM dag_run
WHERE dag_id = $1
ORDER BY execution_date DESC
LIMIT 1`

	var samples []DagDelaySample

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, canaryDagID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d DagDelaySample
			if err := rows.Scan(&d.DagID, &d.ExecutionDate, &d.StartDate); err != nil {
				return err
			}

			samples = append(samples, d)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("dag scheduler delay: %w", err)
	}

	return samples, nil
}

func (s *PgStore) TaskSchedulerDelay(ctx context.Context, canaryDagID string) ([]TaskDelaySample, error) {
	// The outer join is canary-scoped as well, so a non-canary task that
	// happens to share (queue, start_date) can never leak into the result.
	const query = `
WITH latest AS (
	SELECT queue, MAX(start_date) AS max_start
	FROM task_instance
	WHERE dag_id = $1 AND queued_dttm IS NOT NULL
	GROUP BY queue
)
SELECT l.queue, ti.execution_date, ti.queued_dttm, ti.start_date
FROM latest l
JOIN task_instance ti
	ON ti.dag_id = $1
	AND ti.queue = l.queue
	AND ti.start_date = l.max_start
	AND ti.queued_dttm IS NOT NULL
ORDER BY l.queue`

	var samples []TaskDelaySample

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, canaryDagID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var t TaskDelaySample
			if err := rows.Scan(&t.Queue, &t.ExecutionDate, &t.QueuedAt, &t.StartDate); err != nil {
				return err
			}

			samples = append(samples, t)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("task scheduler delay: %w", err)
	}

	return samples, nil
}

func (s *PgStore) QueuedTaskCount(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM task_instance WHERE state = $1`

	var count int64

	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, query, StateQueued).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("queued task count: %w", err)
	}

	return count, nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	return s.pool.Ping(ctx)
}
