package exporter

import (
	"context"
	"sync"
)

var _ MetricsStore = (*StaticStore)(nil)

// StaticStore is an in-memory MetricsStore serving fixed result sets. It
// backs unit tests and demos that do not need a real metadata database.
// When an error is injected with FailWith, every operation returns it.
type StaticStore struct {
	mu           sync.RWMutex
	dagStates    []DagStateCount
	dagDurations []DagDuration
	taskStates   []TaskStateCount
	taskFailures []TaskFailureCount
	taskDurs     []TaskDuration
	dagDelays    []DagDelaySample
	taskDelays   []TaskDelaySample
	queuedTasks  int64
	err          error
}

func NewStaticStore() *StaticStore {
	return &StaticStore{}
}

func (s *StaticStore) SetDagStateCounts(rows []DagStateCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dagStates = rows
}

func (s *StaticStore) SetDagDurations(rows []DagDuration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dagDurations = rows
}

func (s *StaticStore) SetTaskStateCounts(rows []TaskStateCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskStates = rows
}

func (s *StaticStore) SetTaskFailureCounts(rows []TaskFailureCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskFailures = rows
}

func (s *StaticStore) SetTaskDurations(rows []TaskDuration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskDurs = rows
}

func (s *StaticStore) SetDagSchedulerDelay(rows []DagDelaySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dagDelays = rows
}

func (s *StaticStore) SetTaskSchedulerDelay(rows []TaskDelaySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskDelays = rows
}

func (s *StaticStore) SetQueuedTaskCount(count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedTasks = count
}

// FailWith makes every subsequent operation fail with err. Pass nil to
// clear the injected failure.
func (s *StaticStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticStore) DagStateCounts(_ context.Context) ([]DagStateCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	return append([]DagStateCount(nil), s.dagStates...), nil
}

func (s *StaticStore) DagDurations(_ context.Context) ([]DagDuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	return append([]DagDuration(nil), s.dagDurations...), nil
}

func (s *StaticStore) TaskStateCounts(_ context.Context) ([]TaskStateCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	return append([]TaskStateCount(nil), s.taskStates...), nil
}

func (s *StaticStore) TaskFailureCounts(_ context.Context) ([]TaskFailureCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	return append([]TaskFailureCount(nil), s.taskFailures...), nil
}

func (s *StaticStore) TaskDurations(_ context.Context) ([]TaskDuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	return append([]TaskDuration(nil), s.taskDurs...), nil
}

func (s *StaticStore) DagSchedulerDelay(_ context.Context, canaryDagID string) ([]DagDelaySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	var out []DagDelaySample
	for _, row := range s.dagDelays {
		if row.DagID == canaryDagID {
			out = append(out, row)
		}
	}

	return out, nil
}

func (s *StaticStore) TaskSchedulerDelay(_ context.Context, _ string) ([]TaskDelaySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	return append([]TaskDelaySample(nil), s.taskDelays...), nil
}

func (s *StaticStore) QueuedTaskCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return 0, s.err
	}

	return s.queuedTasks, nil
}

func (s *StaticStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.err
}
