package exporter

import "context"

// MetricsStore is the read-only view of the orchestrator's metadata
// database needed to assemble one scrape. Implementations must be safe for
// concurrent use: every operation runs a single aggregation query on its
// own connection, released on all exit paths.
type MetricsStore interface {
	// DagStateCounts returns the number of DAG runs per (dag_id, state),
	// joined with the DAG's owners.
	DagStateCounts(ctx context.Context) ([]DagStateCount, error)

	// DagDurations returns, per DAG, the endpoints of the most recent
	// successful run (max execution_date among runs with state = success
	// and a non-null end_date).
	DagDurations(ctx context.Context) ([]DagDuration, error)

	// TaskStateCounts returns the number of task instances per
	// (dag_id, task_id, state). A NULL state is preserved, never dropped.
	TaskStateCounts(ctx context.Context) ([]TaskStateCount, error)

	// TaskFailureCounts returns the number of failure log entries per
	// (dag_id, task_id).
	TaskFailureCounts(ctx context.Context) ([]TaskFailureCount, error)

	// TaskDurations returns, per (dag_id, task_id), the endpoints of the
	// task instance matching the DAG's latest successful execution_date.
	// Tasks not part of that run are excluded.
	TaskDurations(ctx context.Context) ([]TaskDuration, error)

	// DagSchedulerDelay returns the most recent run of the canary DAG,
	// or no rows if the canary has never run.
	DagSchedulerDelay(ctx context.Context, canaryDagID string) ([]DagDelaySample, error)

	// TaskSchedulerDelay returns, per queue, the most recently started
	// canary task instance with a recorded queued time.
	TaskSchedulerDelay(ctx context.Context, canaryDagID string) ([]TaskDelaySample, error)

	// QueuedTaskCount returns the number of task instances currently in
	// the queued state, across all DAGs.
	QueuedTaskCount(ctx context.Context) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
