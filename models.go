package exporter

import "time"

// Task instance and DAG run states as recorded by the orchestrator.
const (
	StateSuccess = "success"
	StateFailed  = "failed"
	StateRunning = "running"
	StateQueued  = "queued"
)

// StateNone is the status label reported for rows whose state column is
// NULL. A missing state is valid data, not an error.
const StateNone = "none"

// DagStateCount is one (dag, state) bucket of the DAG run status query.
type DagStateCount struct {
	DagID  string
	State  *string
	Count  int64
	Owners string
}

// DagDuration carries the endpoints of the most recent successful run of
// one DAG. StartDate is the earliest task start of that run and may be NULL
// when no task instance recorded a start.
type DagDuration struct {
	DagID     string
	StartDate *time.Time
	EndDate   *time.Time
}

// TaskStateCount is one (dag, task, state) bucket of the task status query.
type TaskStateCount struct {
	DagID  string
	TaskID string
	State  *string
	Count  int64
	Owners string
}

// TaskFailureCount is the number of failure log entries for one task.
type TaskFailureCount struct {
	DagID  string
	TaskID string
	Count  int64
}

// TaskDuration carries the endpoints of the task instance belonging to the
// latest successful execution of its DAG.
type TaskDuration struct {
	DagID         string
	TaskID        string
	StartDate     *time.Time
	EndDate       *time.Time
	ExecutionDate time.Time
}

// DagDelaySample is the most recent run of the canary DAG, used to measure
// scheduling delay (start_date - execution_date).
type DagDelaySample struct {
	DagID         string
	ExecutionDate time.Time
	StartDate     *time.Time
}

// TaskDelaySample is the most recently started canary task instance of one
// queue, used to measure queued-to-started delay.
type TaskDelaySample struct {
	Queue         string
	ExecutionDate time.Time
	QueuedAt      time.Time
	StartDate     time.Time
}
