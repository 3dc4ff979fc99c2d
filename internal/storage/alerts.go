package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"fleetpilot-backend/internal/models"
)

const alertColumns = `
	id, agent_id, assigned_check_result_id, assigned_task_result_id,
	alert_type, target_key, message, severity, alert_time, resolved,
	resolved_on, snoozed, snooze_until, hidden, email_sent, sms_sent,
	resolved_email_sent, resolved_sms_sent`

// InsertAlertIfAbsent relies on the partial unique index
// alerts_unresolved_target (target_key) WHERE resolved = false, created by
// EnsureIndexes.
func (s *Storage) InsertAlertIfAbsent(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	query := `
		INSERT INTO alerts (agent_id, assigned_check_result_id, assigned_task_result_id,
			alert_type, target_key, message, severity, alert_time, hidden)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (target_key) WHERE resolved = false DO NOTHING
		RETURNING ` + alertColumns

	var out models.Alert
	err := s.db.GetContext(ctx, &out, query,
		alert.AgentID, alert.AssignedCheckResultID, alert.AssignedTaskResultID,
		alert.AlertType, alert.TargetKey, alert.Message, alert.Severity,
		alert.AlertTime, alert.Hidden)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Lost the race: the conflicting row is visible to a new statement.
	existing, err := s.GetUnresolvedAlert(ctx, alert.TargetKey)
	if errors.Is(err, ErrAlertNotFound) {
		return nil, fmt.Errorf("alert %s conflicted but was resolved concurrently", alert.TargetKey)
	}
	return existing, err
}

func (s *Storage) GetUnresolvedAlert(ctx context.Context, targetKey string) (*models.Alert, error) {
	var a models.Alert
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE target_key = $1 AND resolved = false`
	err := s.db.GetContext(ctx, &a, query, targetKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	var a models.Alert
	err := s.db.GetContext(ctx, &a, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Start != nil {
		where = append(where, "a.alert_time >= "+arg(*filter.Start))
	}
	if filter.End != nil {
		where = append(where, "a.alert_time <= "+arg(*filter.End))
	}
	if len(filter.ClientIDs) > 0 {
		where = append(where, "s.client_id = ANY("+arg(pq.Array(filter.ClientIDs))+")")
	}
	if len(filter.Severities) > 0 {
		sev := make([]string, len(filter.Severities))
		for i, v := range filter.Severities {
			sev[i] = string(v)
		}
		where = append(where, "a.severity = ANY("+arg(pq.Array(sev))+")")
	}
	if filter.Snoozed != nil {
		where = append(where, "a.snoozed = "+arg(*filter.Snoozed))
	}
	if filter.Resolved != nil {
		where = append(where, "a.resolved = "+arg(*filter.Resolved))
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT a.id, a.agent_id, a.assigned_check_result_id, a.assigned_task_result_id,
			a.alert_type, a.target_key, a.message, a.severity, a.alert_time, a.resolved,
			a.resolved_on, a.snoozed, a.snooze_until, a.hidden, a.email_sent, a.sms_sent,
			a.resolved_email_sent, a.resolved_sms_sent
		FROM alerts a
		JOIN agents ag ON ag.id = a.agent_id
		JOIN sites s ON s.id = ag.site_id
	`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY a.alert_time DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	sb.WriteString(" LIMIT " + arg(limit))

	alerts := []models.Alert{}
	err := s.db.SelectContext(ctx, &alerts, sb.String(), args...)
	return alerts, err
}

func (s *Storage) execAlert(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res, ErrAlertNotFound)
}

func (s *Storage) UpdateAlertSeverity(ctx context.Context, id int64, severity models.Severity) error {
	return s.execAlert(ctx, `UPDATE alerts SET severity = $1 WHERE id = $2`, severity, id)
}

func (s *Storage) SetAlertHidden(ctx context.Context, id int64, hidden bool) error {
	return s.execAlert(ctx, `UPDATE alerts SET hidden = $1 WHERE id = $2`, hidden, id)
}

func (s *Storage) ResolveAlert(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE alerts
		SET resolved = true, resolved_on = $1, snoozed = false, snooze_until = NULL
		WHERE id = $2
	`
	return s.execAlert(ctx, query, at, id)
}

func (s *Storage) SnoozeAlert(ctx context.Context, id int64, until time.Time) error {
	return s.execAlert(ctx, `UPDATE alerts SET snoozed = true, snooze_until = $1 WHERE id = $2`, until, id)
}

func (s *Storage) UnsnoozeAlert(ctx context.Context, id int64) error {
	return s.execAlert(ctx, `UPDATE alerts SET snoozed = false, snooze_until = NULL WHERE id = $1`, id)
}

func (s *Storage) UnsnoozeExpiredAlerts(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE alerts
		SET snoozed = false, snooze_until = NULL
		WHERE snoozed = true AND snooze_until <= $1
	`
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Storage) DeleteAlert(ctx context.Context, id int64) error {
	return s.execAlert(ctx, `DELETE FROM alerts WHERE id = $1`, id)
}

func (s *Storage) PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE resolved = true AND resolved_on < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetAlertContext loads an alert together with the names a notification
// needs and the agent's cached template.
func (s *Storage) GetAlertContext(ctx context.Context, alertID int64) (*models.AlertContext, error) {
	alert, err := s.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	var row struct {
		Hostname   string         `db:"hostname"`
		SiteName   string         `db:"site_name"`
		ClientName string         `db:"client_name"`
		TemplateID sql.NullInt64  `db:"alert_template_id"`
		CheckName  sql.NullString `db:"check_name"`
		TaskName   sql.NullString `db:"task_name"`
	}
	query := `
		SELECT ag.hostname, s.name AS site_name, c.name AS client_name, ag.alert_template_id,
			(SELECT COALESCE(NULLIF(ch.name, ''), ch.check_type)
			   FROM check_results cr JOIN checks ch ON ch.id = cr.check_id
			  WHERE cr.id = $2) AS check_name,
			(SELECT t.name
			   FROM task_results tr JOIN automated_tasks t ON t.id = tr.task_id
			  WHERE tr.id = $3) AS task_name
		FROM agents ag
		JOIN sites s ON s.id = ag.site_id
		JOIN clients c ON c.id = s.client_id
		WHERE ag.id = $1
	`
	err = s.db.GetContext(ctx, &row, query, alert.AgentID, alert.AssignedCheckResultID, alert.AssignedTaskResultID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}

	actx := &models.AlertContext{
		Alert:      *alert,
		Hostname:   row.Hostname,
		SiteName:   row.SiteName,
		ClientName: row.ClientName,
		CheckName:  row.CheckName.String,
		TaskName:   row.TaskName.String,
	}
	if row.TemplateID.Valid {
		t, err := s.GetAlertTemplate(ctx, row.TemplateID.Int64)
		if err != nil && !errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		if t != nil && t.IsActive {
			actx.Template = t
		}
	}
	return actx, nil
}

func notifyColumn(field models.NotifyField) (string, error) {
	switch field {
	case models.FieldEmailSent, models.FieldSMSSent, models.FieldResolvedEmailSent, models.FieldResolvedSMSSent:
		return string(field), nil
	}
	return "", fmt.Errorf("unknown notification field %q", field)
}

// ClaimNotification stamps the field in a single conditional UPDATE so
// concurrent jobs for the same alert and channel cannot both win.
func (s *Storage) ClaimNotification(ctx context.Context, alertID int64, field models.NotifyField, now time.Time, cutoff *time.Time) (bool, *time.Time, error) {
	col, err := notifyColumn(field)
	if err != nil {
		return false, nil, err
	}

	query := fmt.Sprintf(`
		WITH prev AS (
			SELECT id, %[1]s AS sent FROM alerts WHERE id = $1 FOR UPDATE
		)
		UPDATE alerts a
		SET %[1]s = $2
		FROM prev
		WHERE a.id = prev.id
		  AND (prev.sent IS NULL OR ($3::timestamptz IS NOT NULL AND prev.sent < $3::timestamptz))
		RETURNING prev.sent
	`, col)

	var prev *time.Time
	err = s.db.QueryRowxContext(ctx, query, alertID, now, cutoff).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.GetAlert(ctx, alertID); err != nil {
			return false, nil, err
		}
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, prev, nil
}

func (s *Storage) RestoreNotification(ctx context.Context, alertID int64, field models.NotifyField, claimed time.Time, prev *time.Time) error {
	col, err := notifyColumn(field)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE alerts SET %[1]s = $1 WHERE id = $2 AND %[1]s = $3`, col)
	_, err = s.db.ExecContext(ctx, query, prev, alertID, claimed)
	return err
}
