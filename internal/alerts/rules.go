package alerts

import (
	"slices"

	"fleetpilot-backend/internal/models"
)

var (
	agentSeverities          = []models.Severity{models.SeverityError}
	defaultDashboardSeverity = []models.Severity{models.SeverityError, models.SeverityWarning, models.SeverityInfo}
	defaultNotifySeverity    = []models.Severity{models.SeverityError, models.SeverityWarning}
)

// rules is the slice of an alert template that applies to one alert type.
// Nil severity lists allow every severity.
type rules struct {
	alwaysAlert     bool
	alwaysEmail     bool
	alwaysText      bool
	emailOnResolved bool
	textOnResolved  bool
	periodicDays    int

	dashboard []models.Severity
	email     []models.Severity
	text      []models.Severity
}

func rulesFor(t *models.AlertTemplate, typ models.AlertType) rules {
	if t == nil {
		return rules{}
	}

	switch typ {
	case models.AlertCheck:
		return rules{
			alwaysAlert:     t.CheckAlwaysAlert,
			alwaysEmail:     t.CheckAlwaysEmail,
			alwaysText:      t.CheckAlwaysText,
			emailOnResolved: t.CheckEmailOnResolved,
			textOnResolved:  t.CheckTextOnResolved,
			periodicDays:    t.CheckPeriodicAlertDays,
			dashboard:       severities(t.CheckDashboardAlertSeverity, defaultDashboardSeverity),
			email:           severities(t.CheckEmailAlertSeverity, defaultNotifySeverity),
			text:            severities(t.CheckTextAlertSeverity, defaultNotifySeverity),
		}
	case models.AlertTask:
		return rules{
			alwaysAlert:     t.TaskAlwaysAlert,
			alwaysEmail:     t.TaskAlwaysEmail,
			alwaysText:      t.TaskAlwaysText,
			emailOnResolved: t.TaskEmailOnResolved,
			textOnResolved:  t.TaskTextOnResolved,
			periodicDays:    t.TaskPeriodicAlertDays,
			dashboard:       severities(t.TaskDashboardAlertSeverity, defaultDashboardSeverity),
			email:           severities(t.TaskEmailAlertSeverity, defaultNotifySeverity),
			text:            severities(t.TaskTextAlertSeverity, defaultNotifySeverity),
		}
	default:
		return rules{
			alwaysAlert:     t.AgentAlwaysAlert,
			alwaysEmail:     t.AgentAlwaysEmail,
			alwaysText:      t.AgentAlwaysText,
			emailOnResolved: t.AgentEmailOnResolved,
			textOnResolved:  t.AgentTextOnResolved,
			periodicDays:    t.AgentPeriodicAlertDays,
			dashboard:       agentSeverities,
			email:           agentSeverities,
			text:            agentSeverities,
		}
	}
}

func severities(configured []string, fallback []models.Severity) []models.Severity {
	if len(configured) == 0 {
		return fallback
	}
	out := make([]models.Severity, 0, len(configured))
	for _, s := range configured {
		out = append(out, models.Severity(s))
	}
	return out
}

func allowed(list []models.Severity, s models.Severity) bool {
	return list == nil || slices.Contains(list, s)
}
