package exporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCanaryDagID is the workflow whose runs feed the scheduler delay
// metrics. It is expected to be a synthetic, always-scheduled heartbeat DAG.
const DefaultCanaryDagID = "canary_dag"

// ErrNegativeDuration reports a run or task whose recorded end precedes its
// start. Negative intervals are never valid and indicate metadata
// corruption or clock skew, so the scrape fails instead of exporting them.
var ErrNegativeDuration = errors.New("negative duration")

// executionDateLayout is how execution_date label values are rendered.
const executionDateLayout = "2006-01-02"

// defaultCollectTimeout bounds one full collection. Keep it below the HTTP
// server's write timeout so a slow store fails the scrape before the
// response deadline.
const defaultCollectTimeout = 25 * time.Second

var (
	descTaskStatus = prometheus.NewDesc(
		"workflow_task_status",
		"Number of task instances with a particular status.",
		[]string{"dag_id", "task_id", "owner", "status"}, nil,
	)
	descTaskDuration = prometheus.NewDesc(
		"workflow_task_duration",
		"Duration in seconds of each task's latest successful execution.",
		[]string{"task_id", "dag_id", "execution_date"}, nil,
	)
	descTaskFailCount = prometheus.NewDesc(
		"workflow_task_fail_count",
		"Number of recorded task failures.",
		[]string{"dag_id", "task_id"}, nil,
	)
	descDagStatus = prometheus.NewDesc(
		"workflow_dag_status",
		"Number of DAG runs with a particular status.",
		[]string{"dag_id", "owner", "status"}, nil,
	)
	descDagRunDuration = prometheus.NewDesc(
		"workflow_dag_run_duration",
		"Duration in seconds of each DAG's most recent successful run.",
		[]string{"dag_id"}, nil,
	)
	descDagSchedulerDelay = prometheus.NewDesc(
		"workflow_dag_scheduler_delay",
		"Scheduling delay of the canary DAG in seconds.",
		[]string{"dag_id"}, nil,
	)
	descTaskSchedulerDelay = prometheus.NewDesc(
		"workflow_task_scheduler_delay",
		"Queued-to-started delay of canary tasks in seconds, per queue.",
		[]string{"queue"}, nil,
	)
	descNumQueuedTasks = prometheus.NewDesc(
		"workflow_num_queued_tasks",
		"Number of task instances currently queued.",
		nil, nil,
	)
)

var _ prometheus.Collector = (*Collector)(nil)

// Collector derives the fixed gauge catalog from the orchestrator's current
// state. Every scrape recomputes all families from scratch; nothing is
// cached between calls, so concurrent scrapes only share the store.
type Collector struct {
	store          MetricsStore
	canaryDagID    string
	collectTimeout time.Duration
}

func NewCollector(store MetricsStore, opts ...CollectorOption) *Collector {
	c := &Collector{
		store:          store,
		canaryDagID:    DefaultCanaryDagID,
		collectTimeout: defaultCollectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descTaskStatus
	ch <- descTaskDuration
	ch <- descTaskFailCount
	ch <- descDagStatus
	ch <- descDagRunDuration
	ch <- descDagSchedulerDelay
	ch <- descTaskSchedulerDelay
	ch <- descNumQueuedTasks
}

// Collect builds the full snapshot before emitting anything. A failure in
// any dimension aborts the whole scrape: a single invalid metric makes the
// registry's Gather return the error, and the HTTP handler turns that into
// a 500 instead of a truncated, valid-looking body.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.collectTimeout)
	defer cancel()

	snapshot, err := c.snapshot(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(prometheus.NewInvalidDesc(err), err)
		return
	}

	for _, m := range snapshot {
		ch <- m
	}
}

func (c *Collector) snapshot(ctx context.Context) ([]prometheus.Metric, error) {
	var out []prometheus.Metric

	taskStates, err := c.store.TaskStateCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range taskStates {
		out = append(out, prometheus.MustNewConstMetric(
			descTaskStatus, prometheus.GaugeValue, float64(row.Count),
			row.DagID, row.TaskID, row.Owners, stateLabel(row.State),
		))
	}

	taskDurations, err := c.store.TaskDurations(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range taskDurations {
		if row.StartDate == nil || row.EndDate == nil {
			continue
		}
		seconds := row.EndDate.Sub(*row.StartDate).Seconds()
		if seconds < 0 {
			return nil, fmt.Errorf("task %s.%s: %w", row.DagID, row.TaskID, ErrNegativeDuration)
		}
		out = append(out, prometheus.MustNewConstMetric(
			descTaskDuration, prometheus.GaugeValue, seconds,
			row.TaskID, row.DagID, row.ExecutionDate.Format(executionDateLayout),
		))
	}

	taskFailures, err := c.store.TaskFailureCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range taskFailures {
		out = append(out, prometheus.MustNewConstMetric(
			descTaskFailCount, prometheus.GaugeValue, float64(row.Count),
			row.DagID, row.TaskID,
		))
	}

	dagStates, err := c.store.DagStateCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range dagStates {
		out = append(out, prometheus.MustNewConstMetric(
			descDagStatus, prometheus.GaugeValue, float64(row.Count),
			row.DagID, row.Owners, stateLabel(row.State),
		))
	}

	dagDurations, err := c.store.DagDurations(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range dagDurations {
		if row.StartDate == nil || row.EndDate == nil {
			continue
		}
		seconds := row.EndDate.Sub(*row.StartDate).Seconds()
		if seconds < 0 {
			return nil, fmt.Errorf("dag %s: %w", row.DagID, ErrNegativeDuration)
		}
		out = append(out, prometheus.MustNewConstMetric(
			descDagRunDuration, prometheus.GaugeValue, seconds,
			row.DagID,
		))
	}

	dagDelays, err := c.store.DagSchedulerDelay(ctx, c.canaryDagID)
	if err != nil {
		return nil, err
	}
	for _, row := range dagDelays {
		if row.StartDate == nil {
			continue
		}
		out = append(out, prometheus.MustNewConstMetric(
			descDagSchedulerDelay, prometheus.GaugeValue,
			row.StartDate.Sub(row.ExecutionDate).Seconds(),
			row.DagID,
		))
	}

	taskDelays, err := c.store.TaskSchedulerDelay(ctx, c.canaryDagID)
	if err != nil {
		return nil, err
	}
	for _, row := range taskDelays {
		out = append(out, prometheus.MustNewConstMetric(
			descTaskSchedulerDelay, prometheus.GaugeValue,
			row.StartDate.Sub(row.QueuedAt).Seconds(),
			row.Queue,
		))
	}

	queued, err := c.store.QueuedTaskCount(ctx)
	if err != nil {
		return nil, err
	}
	out = append(out, prometheus.MustNewConstMetric(
		descNumQueuedTasks, prometheus.GaugeValue, float64(queued),
	))

	return out, nil
}

func stateLabel(state *string) string {
	if state == nil || *state == "" {
		return StateNone
	}

	return *state
}
