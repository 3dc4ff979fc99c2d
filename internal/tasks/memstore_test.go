package tasks

import (
	"context"
	"sort"
	"sync"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
	"fleetpilot-backend/internal/storage"
)

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	lineages map[int64]*policy.Lineage
	tasks    map[int64]*models.AutomatedTask
	results  map[int64]*models.TaskResult

	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		nextID:   1000,
		lineages: make(map[int64]*policy.Lineage),
		tasks:    make(map[int64]*models.AutomatedTask),
		results:  make(map[int64]*models.TaskResult),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addTask(t models.AutomatedTask) *models.AutomatedTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.id()
	}
	s.tasks[t.ID] = &t
	return &t
}

func (s *memStore) addResult(taskID, agentID int64, status models.SyncStatus) *models.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &models.TaskResult{ID: s.id(), TaskID: taskID, AgentID: agentID, SyncStatus: status}
	s.results[r.ID] = r
	return r
}

func (s *memStore) resultFor(taskID int64) *models.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.TaskID == taskID {
			cp := *r
			return &cp
		}
	}
	return nil
}

func (s *memStore) LoadLineage(_ context.Context, agentID int64) (*policy.Lineage, error) {
	l, ok := s.lineages[agentID]
	if !ok {
		return nil, storage.ErrAgentNotFound
	}
	return l, nil
}

func (s *memStore) GetAgentByAgentID(_ context.Context, agentID string) (*models.Agent, error) {
	for _, l := range s.lineages {
		if l.Agent.AgentID == agentID {
			return l.Agent, nil
		}
	}
	return nil, storage.ErrAgentNotFound
}

func (s *memStore) GetTask(_ context.Context, id int64) (*models.AutomatedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) list(match func(t *models.AutomatedTask) bool) []models.AutomatedTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutomatedTask
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ListAgentTasks(_ context.Context, agentID int64) ([]models.AutomatedTask, error) {
	return s.list(func(t *models.AutomatedTask) bool { return t.AgentID != nil && *t.AgentID == agentID }), nil
}

func (s *memStore) ListPolicyTasks(_ context.Context, policyID int64) ([]models.AutomatedTask, error) {
	return s.list(func(t *models.AutomatedTask) bool { return t.PolicyID != nil && *t.PolicyID == policyID }), nil
}

func (s *memStore) CreateTask(_ context.Context, task *models.AutomatedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	task.ID = s.id()
	cp := *task
	s.tasks[cp.ID] = &cp
	return nil
}

func (s *memStore) UpdateTaskDefinition(_ context.Context, task *models.AutomatedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return storage.ErrTaskNotFound
	}
	cp := *task
	s.tasks[cp.ID] = &cp
	return nil
}

func (s *memStore) SetTaskOverridden(_ context.Context, taskID int64, overridden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID].OverriddenByPolicy = overridden
	return nil
}

func (s *memStore) SetTaskRemoteName(_ context.Context, taskID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID].RemoteName = name
	return nil
}

func (s *memStore) DeleteTask(_ context.Context, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return storage.ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *memStore) ListTaskResults(_ context.Context, agentID int64) ([]models.TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TaskResult
	for _, r := range s.results {
		if r.AgentID == agentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) EnsureTaskResult(_ context.Context, taskID, agentID int64) (*models.TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.TaskID == taskID && r.AgentID == agentID {
			cp := *r
			return &cp, nil
		}
	}
	r := &models.TaskResult{ID: s.id(), TaskID: taskID, AgentID: agentID, SyncStatus: models.SyncInitial}
	s.results[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *memStore) SetTaskSyncStatus(_ context.Context, resultID int64, status models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[resultID].SyncStatus = status
	return nil
}

func (s *memStore) DeleteTaskResult(_ context.Context, resultID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, resultID)
	return nil
}

func (s *memStore) SaveTaskRun(_ context.Context, result *models.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[cp.ID] = &cp
	return nil
}

type recordingAlerts struct {
	failures []alerts.Subject
	resolves []alerts.Subject
	err      error
}

func (r *recordingAlerts) HandleFailure(_ context.Context, s alerts.Subject) error {
	if r.err != nil {
		return r.err
	}
	r.failures = append(r.failures, s)
	return nil
}

func (r *recordingAlerts) HandleResolve(_ context.Context, s alerts.Subject) error {
	r.resolves = append(r.resolves, s)
	return nil
}
