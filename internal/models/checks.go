package models

import (
	"time"

	"github.com/lib/pq"
)

type CheckType string

const (
	CheckDiskSpace CheckType = "diskspace"
	CheckPing      CheckType = "ping"
	CheckCPULoad   CheckType = "cpuload"
	CheckMemory    CheckType = "memory"
	CheckWinSvc    CheckType = "winsvc"
	CheckEventLog  CheckType = "eventlog"
	CheckScript    CheckType = "script"
)

type CheckStatus string

const (
	CheckPending CheckStatus = "pending"
	CheckPassing CheckStatus = "passing"
	CheckFailing CheckStatus = "failing"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type EventLogFailWhen string

const (
	FailWhenContains    EventLogFailWhen = "contains"
	FailWhenNotContains EventLogFailWhen = "not_contains"
)

// Check is owned by exactly one of AgentID or PolicyID.
type Check struct {
	ID                    int64            `json:"id" db:"id"`
	AgentID               *int64           `json:"agent_id" db:"agent_id"`
	PolicyID              *int64           `json:"policy_id" db:"policy_id"`
	CheckType             CheckType        `json:"check_type" db:"check_type"`
	Name                  string           `json:"name" db:"name"`
	Disk                  string           `json:"disk" db:"disk"`
	IP                    string           `json:"ip" db:"ip"`
	ServiceName           string           `json:"svc_name" db:"svc_name"`
	WarningThreshold      int              `json:"warning_threshold" db:"warning_threshold"`
	ErrorThreshold        int              `json:"error_threshold" db:"error_threshold"`
	InfoReturnCodes       pq.Int64Array    `json:"info_return_codes" db:"info_return_codes"`
	WarningReturnCodes    pq.Int64Array    `json:"warning_return_codes" db:"warning_return_codes"`
	FailWhen              EventLogFailWhen `json:"fail_when" db:"fail_when"`
	NumberOfEventsB4Alert int              `json:"number_of_events_b4_alert" db:"number_of_events_b4_alert"`
	FailsB4Alert          int              `json:"fails_b4_alert" db:"fails_b4_alert"`
	AlertSeverity         Severity         `json:"alert_severity" db:"alert_severity"`
	EmailAlert            bool             `json:"email_alert" db:"email_alert"`
	TextAlert             bool             `json:"text_alert" db:"text_alert"`
	DashboardAlert        bool             `json:"dashboard_alert" db:"dashboard_alert"`
}

// Description is the human readable label used in notifications.
func (c *Check) Description() string {
	if c.Name != "" {
		return c.Name
	}
	switch c.CheckType {
	case CheckDiskSpace:
		return "Disk Space Drive " + c.Disk
	case CheckPing:
		return "Ping " + c.IP
	case CheckCPULoad:
		return "CPU Load"
	case CheckMemory:
		return "Memory"
	case CheckWinSvc:
		return "Service Check - " + c.ServiceName
	case CheckEventLog:
		return "Event Log Check"
	case CheckScript:
		return "Script Check"
	}
	return string(c.CheckType)
}

type CheckResult struct {
	ID            int64           `json:"id" db:"id"`
	CheckID       int64           `json:"check_id" db:"check_id"`
	AgentID       int64           `json:"agent_id" db:"agent_id"`
	Status        CheckStatus     `json:"status" db:"status"`
	AlertSeverity Severity        `json:"alert_severity" db:"alert_severity"`
	MoreInfo      string          `json:"more_info" db:"more_info"`
	LastRun       *time.Time      `json:"last_run" db:"last_run"`
	FailCount     int             `json:"fail_count" db:"fail_count"`
	History       pq.Float64Array `json:"history" db:"history"`
	Retcode       int             `json:"retcode" db:"retcode"`
	Stdout        string          `json:"stdout" db:"stdout"`
	Stderr        string          `json:"stderr" db:"stderr"`
	ExecutionTime string          `json:"execution_time" db:"execution_time"`
}
