package alerts

import (
	"fmt"
	"strings"

	"fleetpilot-backend/internal/models"
)

func render(actx *models.AlertContext, field models.NotifyField, core *models.CoreSettings) models.Notification {
	a := actx.Alert
	where := fmt.Sprintf("%s, %s, %s", actx.ClientName, actx.SiteName, actx.Hostname)
	resolved := field == models.FieldResolvedEmailSent || field == models.FieldResolvedSMSSent

	var subject, body string
	switch a.AlertType {
	case models.AlertCheck:
		if resolved {
			subject = fmt.Sprintf("%s Resolved: %s", where, actx.CheckName)
			body = fmt.Sprintf("%s - %s check has returned to passing.", actx.Hostname, actx.CheckName)
		} else {
			subject = fmt.Sprintf("%s - %s Failed", where, actx.CheckName)
			body = a.Message
		}
	case models.AlertTask:
		if resolved {
			subject = fmt.Sprintf("%s Resolved: %s", where, actx.TaskName)
			body = fmt.Sprintf("%s - %s task completed successfully.", actx.Hostname, actx.TaskName)
		} else {
			subject = fmt.Sprintf("%s - %s Failed", where, actx.TaskName)
			body = a.Message
		}
	default:
		if resolved {
			subject = fmt.Sprintf("%s - data received", where)
			body = fmt.Sprintf("Data has now been received from client %s, site %s, agent %s.",
				actx.ClientName, actx.SiteName, actx.Hostname)
		} else {
			subject = fmt.Sprintf("%s - data overdue", where)
			body = fmt.Sprintf("Data has not been received from client %s, site %s, agent %s within the expected time.",
				actx.ClientName, actx.SiteName, actx.Hostname)
		}
	}

	from := core.SMTPFromEmail
	if actx.Template != nil && actx.Template.EmailFrom != "" {
		from = actx.Template.EmailFrom
	}

	if field == models.FieldSMSSent || field == models.FieldResolvedSMSSent {
		// SMS carries a single line.
		return models.Notification{Body: strings.TrimSpace(subject)}
	}
	return models.Notification{
		Subject: subject,
		Body:    fmt.Sprintf("%s\n\nSeverity: %s\n", body, a.Severity),
		From:    from,
	}
}
