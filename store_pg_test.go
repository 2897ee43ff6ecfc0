//go:build integration

package exporter

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPgStore starts a PostgreSQL container, runs the migrations and
// returns a store backed by it.
func setupPgStore(t *testing.T) (*PgStore, *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("airflow"),
		postgres.WithUsername("airflow"),
		postgres.WithPassword("airflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var pool *pgxpool.Pool
	for i := 0; i < 5; i++ {
		pool, err = pgxpool.New(ctx, connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	require.NoError(t, err, "create connection pool")
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))

	return NewPgStore(pool), pool
}

func pgSeedDag(t *testing.T, pool *pgxpool.Pool, dagID, owners string) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		`INSERT INTO dag (dag_id, owners) VALUES ($1, $2)`, dagID, owners)
	require.NoError(t, err)
}

func pgSeedDagRun(t *testing.T, pool *pgxpool.Pool, dagID, state string, executionDate time.Time, start, end *time.Time) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		`INSERT INTO dag_run (dag_id, state, execution_date, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5)`,
		dagID, state, executionDate, start, end)
	require.NoError(t, err)
}

func pgSeedTask(t *testing.T, pool *pgxpool.Pool, taskID, dagID string, executionDate time.Time, state *string, queue string, queuedAt, start, end *time.Time) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		`INSERT INTO task_instance (task_id, dag_id, execution_date, state, queue, queued_dttm, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		taskID, dagID, executionDate, state, queue, queuedAt, start, end)
	require.NoError(t, err)
}

func TestPgStoreDagStateCounts(t *testing.T) {
	store, pool := setupPgStore(t)
	ctx := context.Background()

	pgSeedDag(t, pool, "etl_daily", "data-eng")
	pgSeedDagRun(t, pool, "etl_daily", StateSuccess, testBase, nil, nil)
	pgSeedDagRun(t, pool, "etl_daily", StateSuccess, testBase.Add(time.Hour), nil, nil)
	pgSeedDagRun(t, pool, "etl_daily", StateFailed, testBase.Add(2*time.Hour), nil, nil)

	counts, err := store.DagStateCounts(ctx)
	require.NoError(t, err)

	require.Len(t, counts, 2)
	assert.Equal(t, "etl_daily", counts[0].DagID)
	require.NotNil(t, counts[0].State)
	assert.Equal(t, StateFailed, *counts[0].State)
	assert.Equal(t, int64(1), counts[0].Count)
	assert.Equal(t, "data-eng", counts[0].Owners)
	require.NotNil(t, counts[1].State)
	assert.Equal(t, StateSuccess, *counts[1].State)
	assert.Equal(t, int64(2), counts[1].Count)
}

func TestPgStoreDagDurations(t *testing.T) {
	store, pool := setupPgStore(t)
	ctx := context.Background()

	pgSeedDag(t, pool, "etl_daily", "data-eng")

	older := testBase
	latest := testBase.Add(24 * time.Hour)

	pgSeedDagRun(t, pool, "etl_daily", StateSuccess, older,
		timePtr(older.Add(5*time.Second)), timePtr(older.Add(time.Minute)))
	pgSeedDagRun(t, pool, "etl_daily", StateSuccess, latest,
		timePtr(latest.Add(5*time.Second)), timePtr(latest.Add(10*time.Minute)))

	pgSeedTask(t, pool, "extract", "etl_daily", latest, strPtr(StateSuccess), "default",
		nil, timePtr(latest.Add(12*time.Second)), timePtr(latest.Add(2*time.Minute)))
	pgSeedTask(t, pool, "load", "etl_daily", latest, strPtr(StateSuccess), "default",
		nil, timePtr(latest.Add(30*time.Second)), timePtr(latest.Add(9*time.Minute)))

	durations, err := store.DagDurations(ctx)
	require.NoError(t, err)

	require.Len(t, durations, 1)
	d := durations[0]
	assert.Equal(t, "etl_daily", d.DagID)
	require.NotNil(t, d.StartDate)
	require.NotNil(t, d.EndDate)
	assert.True(t, d.StartDate.Equal(latest.Add(12*time.Second)), "earliest task start of the latest success")
	assert.True(t, d.EndDate.Equal(latest.Add(10*time.Minute)))
}

func TestPgStoreCanaryScoping(t *testing.T) {
	store, pool := setupPgStore(t)
	ctx := context.Background()

	pgSeedDag(t, pool, DefaultCanaryDagID, "airflow")
	pgSeedDag(t, pool, "etl_daily", "data-eng")

	pgSeedDagRun(t, pool, DefaultCanaryDagID, StateSuccess, testBase,
		timePtr(testBase.Add(7*time.Second)), timePtr(testBase.Add(time.Minute)))
	pgSeedDagRun(t, pool, "etl_daily", StateSuccess, testBase.Add(time.Hour),
		timePtr(testBase.Add(time.Hour+time.Second)), timePtr(testBase.Add(2*time.Hour)))

	pgSeedTask(t, pool, "heartbeat", DefaultCanaryDagID, testBase, strPtr(StateSuccess), "default",
		timePtr(testBase.Add(4*time.Second)), timePtr(testBase.Add(20*time.Second)), nil)
	pgSeedTask(t, pool, "extract", "etl_daily", testBase.Add(time.Hour), strPtr(StateSuccess), "default",
		timePtr(testBase.Add(time.Hour)), timePtr(testBase.Add(time.Hour+2*time.Minute)), nil)

	dagSamples, err := store.DagSchedulerDelay(ctx, DefaultCanaryDagID)
	require.NoError(t, err)
	require.Len(t, dagSamples, 1)
	assert.Equal(t, DefaultCanaryDagID, dagSamples[0].DagID)
	require.NotNil(t, dagSamples[0].StartDate)
	assert.True(t, dagSamples[0].StartDate.Equal(testBase.Add(7*time.Second)))

	taskSamples, err := store.TaskSchedulerDelay(ctx, DefaultCanaryDagID)
	require.NoError(t, err)
	require.Len(t, taskSamples, 1)
	assert.Equal(t, "default", taskSamples[0].Queue)
	assert.True(t, taskSamples[0].QueuedAt.Equal(testBase.Add(4*time.Second)))
	assert.True(t, taskSamples[0].StartDate.Equal(testBase.Add(20*time.Second)))
}

func TestPgStoreQueuedTaskCountAndPing(t *testing.T) {
	store, pool := setupPgStore(t)
	ctx := context.Background()

	pgSeedDag(t, pool, "etl_daily", "data-eng")
	pgSeedDagRun(t, pool, "etl_daily", StateRunning, testBase, timePtr(testBase), nil)
	pgSeedTask(t, pool, "extract", "etl_daily", testBase, strPtr(StateQueued), "default",
		timePtr(testBase), nil, nil)
	pgSeedTask(t, pool, "transform", "etl_daily", testBase, strPtr(StateQueued), "default",
		timePtr(testBase), nil, nil)
	pgSeedTask(t, pool, "load", "etl_daily", testBase, strPtr(StateRunning), "default",
		timePtr(testBase), timePtr(testBase.Add(time.Second)), nil)

	count, err := store.QueuedTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, store.Ping(ctx))
}
