package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetpilot-backend/internal/models"
)

func i64(v int64) *int64 { return &v }

func policyTask(id int64, name string) models.AutomatedTask {
	return models.AutomatedTask{ID: id, PolicyID: i64(50), Name: name, Enabled: true, TaskType: models.TaskDaily, DailyInterval: 1}
}

func agentTask(id int64, name string) models.AutomatedTask {
	return models.AutomatedTask{ID: id, AgentID: i64(7), Name: name, Enabled: true, TaskType: models.TaskManual, RemoteName: "FleetPilot_" + name}
}

func copyOf(id int64, parent models.AutomatedTask) models.AutomatedTask {
	c := materialize(parent, 7)
	c.ID = id
	c.RemoteName = "FleetPilot_copy"
	return c
}

func TestPlanMaterializesPolicyTasks(t *testing.T) {
	pt := policyTask(100, "cleanup")
	changes := Plan(7, []models.AutomatedTask{agentTask(1, "backup")}, []models.AutomatedTask{pt}, false)

	require.Len(t, changes.Materialize, 1)
	c := changes.Materialize[0]
	assert.Zero(t, c.ID)
	assert.True(t, c.ManagedByPolicy)
	assert.Equal(t, int64(100), *c.ParentTaskID)
	assert.Equal(t, int64(7), *c.AgentID)
	assert.Nil(t, c.PolicyID)
	assert.Empty(t, changes.Stale)
	assert.Empty(t, changes.Override)
}

func TestPlanIsIdempotent(t *testing.T) {
	pt := policyTask(100, "cleanup")
	agentTasks := []models.AutomatedTask{agentTask(1, "backup"), copyOf(2, pt)}

	assert.True(t, Plan(7, agentTasks, []models.AutomatedTask{pt}, false).Empty())
}

func TestPlanRefreshesChangedCopies(t *testing.T) {
	pt := policyTask(100, "cleanup")
	existing := copyOf(2, pt)
	pt.DailyInterval = 3

	changes := Plan(7, []models.AutomatedTask{existing}, []models.AutomatedTask{pt}, false)
	require.Len(t, changes.Refresh, 1)
	assert.Equal(t, int64(2), changes.Refresh[0].ID)
	assert.Equal(t, "FleetPilot_copy", changes.Refresh[0].RemoteName)
	assert.Equal(t, 3, changes.Refresh[0].DailyInterval)
}

func TestPlanStaleCopies(t *testing.T) {
	old := policyTask(100, "cleanup")
	agentTasks := []models.AutomatedTask{copyOf(2, old)}

	changes := Plan(7, agentTasks, nil, false)
	require.Len(t, changes.Stale, 1)
	assert.Equal(t, int64(2), changes.Stale[0].ID)
}

func TestPlanEnforcedOverride(t *testing.T) {
	pt := policyTask(100, "backup")
	own := agentTask(1, "backup")
	other := agentTask(3, "defrag")

	changes := Plan(7, []models.AutomatedTask{own, other}, []models.AutomatedTask{pt}, true)
	require.Len(t, changes.Override, 1)
	assert.Equal(t, int64(1), changes.Override[0].ID)

	// Not enforced: same-name tasks coexist.
	changes = Plan(7, []models.AutomatedTask{own}, []models.AutomatedTask{pt}, false)
	assert.Empty(t, changes.Override)

	// Enforcement lifted: the override is released.
	own.OverriddenByPolicy = true
	changes = Plan(7, []models.AutomatedTask{own, copyOf(2, pt)}, []models.AutomatedTask{pt}, false)
	require.Len(t, changes.Release, 1)
	assert.Equal(t, int64(1), changes.Release[0].ID)
}
