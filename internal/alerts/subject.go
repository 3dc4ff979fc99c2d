package alerts

import (
	"fmt"

	"fleetpilot-backend/internal/models"
)

// Subject is the thing an alert is about: an agent's availability, one of
// its check results or one of its task results.
type Subject struct {
	Type        models.AlertType
	Agent       *models.Agent
	Check       *models.Check
	CheckResult *models.CheckResult
	Task        *models.AutomatedTask
	TaskResult  *models.TaskResult
}

func AgentSubject(agent *models.Agent) Subject {
	return Subject{Type: models.AlertAvailability, Agent: agent}
}

func CheckSubject(agent *models.Agent, check *models.Check, result *models.CheckResult) Subject {
	return Subject{Type: models.AlertCheck, Agent: agent, Check: check, CheckResult: result}
}

func TaskSubject(agent *models.Agent, task *models.AutomatedTask, result *models.TaskResult) Subject {
	return Subject{Type: models.AlertTask, Agent: agent, Task: task, TaskResult: result}
}

// TargetKey identifies the alert target. Check and task alerts are keyed by
// their per-agent result row.
func (s Subject) TargetKey() string {
	switch s.Type {
	case models.AlertCheck:
		return models.TargetKey(s.Type, s.CheckResult.ID)
	case models.AlertTask:
		return models.TargetKey(s.Type, s.TaskResult.ID)
	default:
		return models.TargetKey(models.AlertAvailability, s.Agent.ID)
	}
}

// Severity is the severity a new or drifted alert should carry.
func (s Subject) Severity() models.Severity {
	switch s.Type {
	case models.AlertCheck:
		if s.CheckResult.AlertSeverity != "" {
			return s.CheckResult.AlertSeverity
		}
		if s.Check.AlertSeverity != "" {
			return s.Check.AlertSeverity
		}
	case models.AlertTask:
		if s.Task.AlertSeverity != "" {
			return s.Task.AlertSeverity
		}
	}
	return models.SeverityError
}

func (s Subject) message() string {
	switch s.Type {
	case models.AlertCheck:
		return fmt.Sprintf("%s has a %s check: %s that failed.", s.Agent.Hostname, s.Check.CheckType, s.Check.Description())
	case models.AlertTask:
		return fmt.Sprintf("%s has task: %s that failed.", s.Agent.Hostname, s.Task.Name)
	default:
		return fmt.Sprintf("%s is overdue.", s.Agent.Hostname)
	}
}

// flags returns the leaf entity's own email, text and dashboard switches.
func (s Subject) flags() (email, text, dashboard bool) {
	switch s.Type {
	case models.AlertCheck:
		return s.Check.EmailAlert, s.Check.TextAlert, s.Check.DashboardAlert
	case models.AlertTask:
		return s.Task.EmailAlert, s.Task.TextAlert, s.Task.DashboardAlert
	default:
		return s.Agent.OverdueEmailAlert, s.Agent.OverdueTextAlert, s.Agent.OverdueDashboardAlert
	}
}

func (s Subject) newAlert() *models.Alert {
	a := &models.Alert{
		AgentID:   s.Agent.ID,
		AlertType: s.Type,
		TargetKey: s.TargetKey(),
		Message:   s.message(),
		Severity:  s.Severity(),
		Hidden:    true,
	}
	switch s.Type {
	case models.AlertCheck:
		id := s.CheckResult.ID
		a.AssignedCheckResultID = &id
	case models.AlertTask:
		id := s.TaskResult.ID
		a.AssignedTaskResultID = &id
	}
	return a
}
