// Package fleet derives agent availability from cached heartbeat fields.
package fleet

import (
	"time"

	"fleetpilot-backend/internal/models"
)

// Status maps the last heartbeat and the agent's thresholds (in minutes) to
// online, offline or overdue. It performs no I/O.
func Status(lastSeen *time.Time, offlineMinutes, overdueMinutes int, now time.Time) models.AgentStatus {
	if lastSeen == nil {
		return models.AgentOffline
	}
	if offlineMinutes <= 0 {
		offlineMinutes = models.DefaultOfflineMinutes
	}
	if overdueMinutes <= 0 {
		overdueMinutes = models.DefaultOverdueMinutes
	}

	offlineCutoff := now.Add(-time.Duration(offlineMinutes) * time.Minute)
	overdueCutoff := now.Add(-time.Duration(overdueMinutes) * time.Minute)

	switch {
	case !lastSeen.Before(offlineCutoff):
		return models.AgentOnline
	case !lastSeen.Before(overdueCutoff):
		return models.AgentOffline
	default:
		return models.AgentOverdue
	}
}

// AgentStatus is Status applied to an agent row.
func AgentStatus(agent *models.Agent, now time.Time) models.AgentStatus {
	return Status(agent.LastSeen, agent.OfflineTime, agent.OverdueTime, now)
}

// Online filters agents down to those currently online.
func Online(agents []models.Agent, now time.Time) []models.Agent {
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if AgentStatus(&a, now) == models.AgentOnline {
			out = append(out, a)
		}
	}
	return out
}
