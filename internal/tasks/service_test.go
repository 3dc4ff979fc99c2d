package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
)

func newServiceFixture() (*Service, *memStore, *recordingAlerts, *models.AutomatedTask) {
	store := newMemStore()
	agent := &models.Agent{ID: 1, AgentID: "agent-1"}
	store.lineages[agent.ID] = &policy.Lineage{Agent: agent}
	task := store.addTask(models.AutomatedTask{
		AgentID:       int64p(agent.ID),
		Name:          "backup",
		TaskType:      models.TaskDaily,
		AlertSeverity: models.SeverityWarning,
	})
	rec := &recordingAlerts{}
	svc := NewService(store, rec)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store, rec, task
}

func TestIngestRun_Failure(t *testing.T) {
	svc, store, rec, task := newServiceFixture()

	err := svc.IngestRun(context.Background(), models.TaskRunPayload{
		ID: task.ID, AgentID: "agent-1", Retcode: 2, Stderr: "disk full",
	})
	require.NoError(t, err)

	res := store.resultFor(task.ID)
	require.NotNil(t, res)
	assert.Equal(t, models.CheckFailing, res.Status)
	assert.Equal(t, 2, res.Retcode)
	assert.Equal(t, "disk full", res.Stderr)
	require.NotNil(t, res.LastRun)

	require.Len(t, rec.failures, 1)
	assert.Empty(t, rec.resolves)
	assert.Equal(t, models.SeverityWarning, rec.failures[0].Severity())
}

func TestIngestRun_Success(t *testing.T) {
	svc, store, rec, task := newServiceFixture()

	err := svc.IngestRun(context.Background(), models.TaskRunPayload{ID: task.ID, AgentID: "agent-1", Stdout: "ok"})
	require.NoError(t, err)

	assert.Equal(t, models.CheckPassing, store.resultFor(task.ID).Status)
	assert.Len(t, rec.resolves, 1)
	assert.Empty(t, rec.failures)
}

func TestIngestRun_Dropped(t *testing.T) {
	svc, store, rec, task := newServiceFixture()
	other := store.addTask(models.AutomatedTask{AgentID: int64p(2), Name: "foreign", TaskType: models.TaskManual})

	cases := []models.TaskRunPayload{
		{ID: task.ID, AgentID: "unknown"},
		{ID: 424242, AgentID: "agent-1"},
		{ID: other.ID, AgentID: "agent-1"},
	}
	for _, run := range cases {
		require.NoError(t, svc.IngestRun(context.Background(), run))
	}
	assert.Nil(t, store.resultFor(task.ID))
	assert.Nil(t, store.resultFor(other.ID))
	assert.Empty(t, rec.failures)
	assert.Empty(t, rec.resolves)
}

func TestIngestRun_OverriddenTaskIgnored(t *testing.T) {
	svc, store, rec, task := newServiceFixture()
	store.tasks[task.ID].OverriddenByPolicy = true

	err := svc.IngestRun(context.Background(), models.TaskRunPayload{ID: task.ID, AgentID: "agent-1", Retcode: 1})
	require.NoError(t, err)

	assert.Nil(t, store.resultFor(task.ID))
	assert.Empty(t, rec.failures)
	assert.Empty(t, rec.resolves)
}

func TestIngestRun_AlertErrorStillStoresRun(t *testing.T) {
	svc, store, rec, task := newServiceFixture()
	rec.err = errors.New("db hiccup")

	err := svc.IngestRun(context.Background(), models.TaskRunPayload{ID: task.ID, AgentID: "agent-1", Retcode: 3})
	require.NoError(t, err)

	res := store.resultFor(task.ID)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Retcode)
}
