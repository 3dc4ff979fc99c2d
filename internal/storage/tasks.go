package storage

import (
	"context"
	"database/sql"
	"errors"

	"fleetpilot-backend/internal/models"
)

const taskColumns = `
	id, agent_id, policy_id, managed_by_policy, parent_task_id,
	overridden_by_policy, name, remote_name, enabled, task_type,
	run_time_date, expire_date, daily_interval, weekly_interval,
	run_time_bit_weekdays, monthly_days_of_month, monthly_months_of_year,
	monthly_weeks_of_month, task_repetition_interval,
	task_repetition_duration, stop_task_at_duration_end, random_task_delay,
	task_instance_policy, run_asap_after_missed, remove_if_not_scheduled,
	alert_severity, email_alert, text_alert, dashboard_alert`

const taskResultColumns = `
	id, task_id, agent_id, sync_status, status, retcode, stdout, stderr, last_run`

func (s *Storage) GetTask(ctx context.Context, id int64) (*models.AutomatedTask, error) {
	var t models.AutomatedTask
	err := s.db.GetContext(ctx, &t, `SELECT `+taskColumns+` FROM automated_tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) ListAgentTasks(ctx context.Context, agentID int64) ([]models.AutomatedTask, error) {
	var out []models.AutomatedTask
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+taskColumns+` FROM automated_tasks WHERE agent_id = $1 ORDER BY id`, agentID)
	return out, err
}

func (s *Storage) ListPolicyTasks(ctx context.Context, policyID int64) ([]models.AutomatedTask, error) {
	var out []models.AutomatedTask
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+taskColumns+` FROM automated_tasks WHERE policy_id = $1 ORDER BY id`, policyID)
	return out, err
}

// CreateTask inserts the task and sets its id. A second policy copy of the
// same parent for one agent fails with ErrTaskExists.
func (s *Storage) CreateTask(ctx context.Context, t *models.AutomatedTask) error {
	query := `
		INSERT INTO automated_tasks (
			agent_id, policy_id, managed_by_policy, parent_task_id,
			overridden_by_policy, name, remote_name, enabled, task_type,
			run_time_date, expire_date, daily_interval, weekly_interval,
			run_time_bit_weekdays, monthly_days_of_month, monthly_months_of_year,
			monthly_weeks_of_month, task_repetition_interval,
			task_repetition_duration, stop_task_at_duration_end, random_task_delay,
			task_instance_policy, run_asap_after_missed, remove_if_not_scheduled,
			alert_severity, email_alert, text_alert, dashboard_alert
		) VALUES (
			:agent_id, :policy_id, :managed_by_policy, :parent_task_id,
			:overridden_by_policy, :name, :remote_name, :enabled, :task_type,
			:run_time_date, :expire_date, :daily_interval, :weekly_interval,
			:run_time_bit_weekdays, :monthly_days_of_month, :monthly_months_of_year,
			:monthly_weeks_of_month, :task_repetition_interval,
			:task_repetition_duration, :stop_task_at_duration_end, :random_task_delay,
			:task_instance_policy, :run_asap_after_missed, :remove_if_not_scheduled,
			:alert_severity, :email_alert, :text_alert, :dashboard_alert
		) RETURNING id`

	rows, err := s.db.NamedQueryContext(ctx, query, t)
	if isUniqueViolation(err) {
		return ErrTaskExists
	}
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return rows.Scan(&t.ID)
}

// UpdateTaskDefinition overwrites the schedule and alert settings of an
// existing task. Ownership columns and the remote name are left alone.
func (s *Storage) UpdateTaskDefinition(ctx context.Context, t *models.AutomatedTask) error {
	query := `
		UPDATE automated_tasks SET
			name = :name, enabled = :enabled, task_type = :task_type,
			run_time_date = :run_time_date, expire_date = :expire_date,
			daily_interval = :daily_interval, weekly_interval = :weekly_interval,
			run_time_bit_weekdays = :run_time_bit_weekdays,
			monthly_days_of_month = :monthly_days_of_month,
			monthly_months_of_year = :monthly_months_of_year,
			monthly_weeks_of_month = :monthly_weeks_of_month,
			task_repetition_interval = :task_repetition_interval,
			task_repetition_duration = :task_repetition_duration,
			stop_task_at_duration_end = :stop_task_at_duration_end,
			random_task_delay = :random_task_delay,
			task_instance_policy = :task_instance_policy,
			run_asap_after_missed = :run_asap_after_missed,
			remove_if_not_scheduled = :remove_if_not_scheduled,
			alert_severity = :alert_severity, email_alert = :email_alert,
			text_alert = :text_alert, dashboard_alert = :dashboard_alert
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, t)
	if err != nil {
		return err
	}
	return expectOne(res, ErrTaskNotFound)
}

func (s *Storage) SetTaskOverridden(ctx context.Context, taskID int64, overridden bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automated_tasks SET overridden_by_policy = $1 WHERE id = $2`, overridden, taskID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrTaskNotFound)
}

func (s *Storage) SetTaskRemoteName(ctx context.Context, taskID int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automated_tasks SET remote_name = $1 WHERE id = $2`, name, taskID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrTaskNotFound)
}

func (s *Storage) DeleteTask(ctx context.Context, taskID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automated_tasks WHERE id = $1`, taskID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrTaskNotFound)
}

func (s *Storage) ListTaskResults(ctx context.Context, agentID int64) ([]models.TaskResult, error) {
	var out []models.TaskResult
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+taskResultColumns+` FROM task_results WHERE agent_id = $1 ORDER BY id`, agentID)
	return out, err
}

// EnsureTaskResult returns the result row for the task on the agent, creating
// it with sync status initial on first use.
func (s *Storage) EnsureTaskResult(ctx context.Context, taskID, agentID int64) (*models.TaskResult, error) {
	query := `
		INSERT INTO task_results (task_id, agent_id, sync_status, status, retcode, stdout, stderr)
		VALUES ($1, $2, 'initial', 'pending', 0, '', '')
		ON CONFLICT (task_id, agent_id) DO UPDATE SET task_id = EXCLUDED.task_id
		RETURNING ` + taskResultColumns

	var r models.TaskResult
	if err := s.db.GetContext(ctx, &r, query, taskID, agentID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) SetTaskSyncStatus(ctx context.Context, resultID int64, status models.SyncStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_results SET sync_status = $1 WHERE id = $2`, status, resultID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrTaskNotFound)
}

func (s *Storage) DeleteTaskResult(ctx context.Context, resultID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_results WHERE id = $1`, resultID)
	return err
}

// SaveTaskRun stores the outcome of a run. Sync status is owned by the
// reconciler and is not touched.
func (s *Storage) SaveTaskRun(ctx context.Context, r *models.TaskResult) error {
	query := `
		UPDATE task_results
		SET status = $1, retcode = $2, stdout = $3, stderr = $4, last_run = $5
		WHERE id = $6
	`
	res, err := s.db.ExecContext(ctx, query, r.Status, r.Retcode, r.Stdout, r.Stderr, r.LastRun, r.ID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrTaskNotFound)
}
