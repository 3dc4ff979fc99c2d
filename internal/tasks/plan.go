package tasks

import (
	"time"

	"fleetpilot-backend/internal/models"
)

// Changes is the local work needed to make an agent's task rows match the
// desired set.
type Changes struct {
	// Materialize holds new agent-owned copies of policy tasks.
	Materialize []models.AutomatedTask
	// Refresh holds existing copies whose parent definition changed, already
	// carrying the parent's new definition.
	Refresh []models.AutomatedTask
	// Stale holds copies whose parent no longer applies to the agent.
	Stale []models.AutomatedTask
	// Override and Release hold agent tasks that gain or lose
	// overridden_by_policy.
	Override []models.AutomatedTask
	Release  []models.AutomatedTask
}

func (c Changes) Empty() bool {
	return len(c.Materialize) == 0 && len(c.Refresh) == 0 && len(c.Stale) == 0 &&
		len(c.Override) == 0 && len(c.Release) == 0
}

// Plan compares the agent's own task rows, including existing policy copies,
// with the tasks of the agent's effective policy. When the policy is
// enforced, agent tasks sharing a name with a policy task are overridden.
func Plan(agentID int64, agentTasks, policyTasks []models.AutomatedTask, enforced bool) Changes {
	var out Changes

	parents := make(map[int64]bool, len(policyTasks))
	names := make(map[string]bool, len(policyTasks))
	for _, pt := range policyTasks {
		parents[pt.ID] = true
		names[pt.Name] = true
	}

	copies := make(map[int64]models.AutomatedTask)
	for _, t := range agentTasks {
		if !t.ManagedByPolicy {
			continue
		}
		if t.ParentTaskID == nil || !parents[*t.ParentTaskID] {
			out.Stale = append(out.Stale, t)
			continue
		}
		if _, dup := copies[*t.ParentTaskID]; dup {
			out.Stale = append(out.Stale, t)
			continue
		}
		copies[*t.ParentTaskID] = t
	}

	for _, pt := range policyTasks {
		existing, ok := copies[pt.ID]
		if !ok {
			out.Materialize = append(out.Materialize, materialize(pt, agentID))
			continue
		}
		if !sameDefinition(existing, pt) {
			refreshed := materialize(pt, agentID)
			refreshed.ID = existing.ID
			refreshed.RemoteName = existing.RemoteName
			out.Refresh = append(out.Refresh, refreshed)
		}
	}

	for _, t := range agentTasks {
		if t.ManagedByPolicy {
			continue
		}
		override := enforced && names[t.Name]
		switch {
		case override && !t.OverriddenByPolicy:
			out.Override = append(out.Override, t)
		case !override && t.OverriddenByPolicy:
			out.Release = append(out.Release, t)
		}
	}

	return out
}

func materialize(pt models.AutomatedTask, agentID int64) models.AutomatedTask {
	c := pt
	parent := pt.ID
	owner := agentID
	c.ID = 0
	c.AgentID = &owner
	c.PolicyID = nil
	c.ManagedByPolicy = true
	c.ParentTaskID = &parent
	c.OverriddenByPolicy = false
	c.RemoteName = ""
	return c
}

// sameDefinition compares everything the agent sees, ignoring ownership.
func sameDefinition(a, b models.AutomatedTask) bool {
	return a.Name == b.Name &&
		a.Enabled == b.Enabled &&
		a.TaskType == b.TaskType &&
		sameTime(a.RunTimeDate, b.RunTimeDate) &&
		sameTime(a.ExpireDate, b.ExpireDate) &&
		a.DailyInterval == b.DailyInterval &&
		a.WeeklyInterval == b.WeeklyInterval &&
		a.RunTimeBitWeekdays == b.RunTimeBitWeekdays &&
		a.MonthlyDaysOfMonth == b.MonthlyDaysOfMonth &&
		a.MonthlyMonthsOfYear == b.MonthlyMonthsOfYear &&
		a.MonthlyWeeksOfMonth == b.MonthlyWeeksOfMonth &&
		a.TaskRepetitionInterval == b.TaskRepetitionInterval &&
		a.TaskRepetitionDuration == b.TaskRepetitionDuration &&
		a.StopTaskAtDurationEnd == b.StopTaskAtDurationEnd &&
		a.RandomTaskDelay == b.RandomTaskDelay &&
		a.TaskInstancePolicy == b.TaskInstancePolicy &&
		a.RunAsapAfterMissed == b.RunAsapAfterMissed &&
		a.RemoveIfNotScheduled == b.RemoveIfNotScheduled &&
		a.AlertSeverity == b.AlertSeverity &&
		a.EmailAlert == b.EmailAlert &&
		a.TextAlert == b.TextAlert &&
		a.DashboardAlert == b.DashboardAlert
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
