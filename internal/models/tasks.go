package models

import "time"

type TaskType string

const (
	TaskManual       TaskType = "manual"
	TaskCheckFailure TaskType = "checkfailure"
	TaskRunOnce      TaskType = "runonce"
	TaskDaily        TaskType = "daily"
	TaskWeekly       TaskType = "weekly"
	TaskMonthly      TaskType = "monthly"
	TaskMonthlyDOW   TaskType = "monthlydow"
)

// Scheduled reports whether the task type carries a start time on the agent.
func (t TaskType) Scheduled() bool {
	switch t {
	case TaskRunOnce, TaskDaily, TaskWeekly, TaskMonthly, TaskMonthlyDOW:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncInitial         SyncStatus = "initial"
	SyncSynced          SyncStatus = "synced"
	SyncNotSynced       SyncStatus = "notsynced"
	SyncPendingDeletion SyncStatus = "pendingdeletion"
)

// AutomatedTask is owned by exactly one of AgentID or PolicyID. Copies of
// policy tasks are agent-owned rows with ManagedByPolicy set and ParentTaskID
// pointing at the policy task.
type AutomatedTask struct {
	ID                     int64      `json:"id" db:"id"`
	AgentID                *int64     `json:"agent_id" db:"agent_id"`
	PolicyID               *int64     `json:"policy_id" db:"policy_id"`
	ManagedByPolicy        bool       `json:"managed_by_policy" db:"managed_by_policy"`
	ParentTaskID           *int64     `json:"parent_task_id" db:"parent_task_id"`
	OverriddenByPolicy     bool       `json:"overridden_by_policy" db:"overridden_by_policy"`
	Name                   string     `json:"name" db:"name"`
	RemoteName             string     `json:"remote_name" db:"remote_name"`
	Enabled                bool       `json:"enabled" db:"enabled"`
	TaskType               TaskType   `json:"task_type" db:"task_type"`
	RunTimeDate            *time.Time `json:"run_time_date" db:"run_time_date"`
	ExpireDate             *time.Time `json:"expire_date" db:"expire_date"`
	DailyInterval          int        `json:"daily_interval" db:"daily_interval"`
	WeeklyInterval         int        `json:"weekly_interval" db:"weekly_interval"`
	RunTimeBitWeekdays     int        `json:"run_time_bit_weekdays" db:"run_time_bit_weekdays"`
	MonthlyDaysOfMonth     int64      `json:"monthly_days_of_month" db:"monthly_days_of_month"`
	MonthlyMonthsOfYear    int        `json:"monthly_months_of_year" db:"monthly_months_of_year"`
	MonthlyWeeksOfMonth    int        `json:"monthly_weeks_of_month" db:"monthly_weeks_of_month"`
	TaskRepetitionInterval string     `json:"task_repetition_interval" db:"task_repetition_interval"`
	TaskRepetitionDuration string     `json:"task_repetition_duration" db:"task_repetition_duration"`
	StopTaskAtDurationEnd  bool       `json:"stop_task_at_duration_end" db:"stop_task_at_duration_end"`
	RandomTaskDelay        string     `json:"random_task_delay" db:"random_task_delay"`
	TaskInstancePolicy     int        `json:"task_instance_policy" db:"task_instance_policy"`
	RunAsapAfterMissed     bool       `json:"run_asap_after_missed" db:"run_asap_after_missed"`
	RemoveIfNotScheduled   bool       `json:"remove_if_not_scheduled" db:"remove_if_not_scheduled"`
	AlertSeverity          Severity   `json:"alert_severity" db:"alert_severity"`
	EmailAlert             bool       `json:"email_alert" db:"email_alert"`
	TextAlert              bool       `json:"text_alert" db:"text_alert"`
	DashboardAlert         bool       `json:"dashboard_alert" db:"dashboard_alert"`
}

type TaskResult struct {
	ID         int64       `json:"id" db:"id"`
	TaskID     int64       `json:"task_id" db:"task_id"`
	AgentID    int64       `json:"agent_id" db:"agent_id"`
	SyncStatus SyncStatus  `json:"sync_status" db:"sync_status"`
	Status     CheckStatus `json:"status" db:"status"`
	Retcode    int         `json:"retcode" db:"retcode"`
	Stdout     string      `json:"stdout" db:"stdout"`
	Stderr     string      `json:"stderr" db:"stderr"`
	LastRun    *time.Time  `json:"last_run" db:"last_run"`
}
