package storage

import (
	"context"
	"database/sql"
	"errors"

	"fleetpilot-backend/internal/models"
)

const checkColumns = `
	id, agent_id, policy_id, check_type, name, disk, ip, svc_name,
	warning_threshold, error_threshold, info_return_codes,
	warning_return_codes, fail_when, number_of_events_b4_alert,
	fails_b4_alert, alert_severity, email_alert, text_alert, dashboard_alert`

const checkResultColumns = `
	id, check_id, agent_id, status, alert_severity, more_info, last_run,
	fail_count, history, retcode, stdout, stderr, execution_time`

func (s *Storage) GetCheck(ctx context.Context, id int64) (*models.Check, error) {
	var c models.Check
	err := s.db.GetContext(ctx, &c, `SELECT `+checkColumns+` FROM checks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateCheckResult returns the single result row for the check on the
// agent, creating a pending one on first use.
func (s *Storage) GetOrCreateCheckResult(ctx context.Context, checkID, agentID int64) (*models.CheckResult, error) {
	query := `
		INSERT INTO check_results (check_id, agent_id, status, alert_severity, more_info,
			fail_count, history, retcode, stdout, stderr, execution_time)
		VALUES ($1, $2, 'pending', '', '', 0, '{}', 0, '', '', '')
		ON CONFLICT (check_id, agent_id) DO UPDATE SET check_id = EXCLUDED.check_id
		RETURNING ` + checkResultColumns

	var r models.CheckResult
	if err := s.db.GetContext(ctx, &r, query, checkID, agentID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) SaveCheckResult(ctx context.Context, r *models.CheckResult) error {
	query := `
		UPDATE check_results
		SET status = $1, alert_severity = $2, more_info = $3, last_run = $4,
			fail_count = $5, history = $6, retcode = $7, stdout = $8,
			stderr = $9, execution_time = $10
		WHERE id = $11
	`
	res, err := s.db.ExecContext(ctx, query,
		r.Status, r.AlertSeverity, r.MoreInfo, r.LastRun,
		r.FailCount, r.History, r.Retcode, r.Stdout,
		r.Stderr, r.ExecutionTime, r.ID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrCheckNotFound)
}
