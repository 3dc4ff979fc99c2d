package models

import "time"

// Heartbeat is the wire format for KV heartbeat entries.
type Heartbeat struct {
	V              int            `msgpack:"v"`
	AgentID        string         `msgpack:"agent_id"`
	AgentVersion   string         `msgpack:"agent_version"`
	Hostname       string         `msgpack:"hostname"`
	OS             string         `msgpack:"os"`
	Arch           string         `msgpack:"arch"`
	Uptime         int64          `msgpack:"uptime"`
	MonitoringType MonitoringType `msgpack:"monitoring_type,omitempty"`
}

// EventLogEntry is one matched event from an event log check.
type EventLogEntry struct {
	Source    string `msgpack:"source" json:"source"`
	EventType string `msgpack:"eventType" json:"eventType"`
	EventID   int    `msgpack:"eventID" json:"eventID"`
	Message   string `msgpack:"message" json:"message"`
	Time      string `msgpack:"time" json:"time"`
	UID       int    `msgpack:"uid" json:"uid"`
}

// CheckResultPayload is the wire format for check results published by
// agents. Only the fields of the check's type are populated.
type CheckResultPayload struct {
	ID      int64  `msgpack:"id"`
	AgentID string `msgpack:"agent_id"`

	// diskspace
	PercentUsed float64 `msgpack:"percent_used,omitempty"`
	Exists      bool    `msgpack:"exists,omitempty"`
	MoreInfo    string  `msgpack:"more_info,omitempty"`

	// cpuload, memory
	Percent float64 `msgpack:"percent,omitempty"`

	// ping, winsvc, eventlog
	Status CheckStatus `msgpack:"status,omitempty"`
	Output string      `msgpack:"output,omitempty"`

	// script
	Stdout  string  `msgpack:"stdout,omitempty"`
	Stderr  string  `msgpack:"stderr,omitempty"`
	Retcode int     `msgpack:"retcode,omitempty"`
	Runtime float64 `msgpack:"runtime,omitempty"`

	// eventlog
	Log []EventLogEntry `msgpack:"log,omitempty"`
}

// TaskRunPayload is the wire format for scheduled task run results.
type TaskRunPayload struct {
	ID      int64   `msgpack:"id"`
	AgentID string  `msgpack:"agent_id"`
	Stdout  string  `msgpack:"stdout"`
	Stderr  string  `msgpack:"stderr"`
	Retcode int     `msgpack:"retcode"`
	Runtime float64 `msgpack:"runtime"`
}

// Command is the RPC request sent to an agent.
type Command struct {
	Func             string            `msgpack:"func"`
	Payload          map[string]any    `msgpack:"payload,omitempty"`
	SchedTaskPayload *SchedTaskPayload `msgpack:"schedtaskpayload,omitempty"`
	Timeout          int               `msgpack:"timeout,omitempty"`
	RequestID        string            `msgpack:"request_id"`
}

// CommandResponse is the RPC reply from an agent.
type CommandResponse struct {
	RequestID string `msgpack:"request_id"`
	Status    string `msgpack:"status"`
	Error     string `msgpack:"error,omitempty"`
	Data      []byte `msgpack:"data,omitempty"`
}

const (
	FuncSchedTask      = "schedtask"
	FuncDelSchedTask   = "delschedtask"
	FuncListSchedTasks = "listschedtasks"
)

// SchedTaskPayload describes a scheduled task on the agent. Optional fields
// are omitted from the wire when nil.
type SchedTaskPayload struct {
	PK                     int64  `msgpack:"pk"`
	Type                   string `msgpack:"type"`
	Name                   string `msgpack:"name"`
	OverwriteTask          bool   `msgpack:"overwrite_task"`
	Enabled                bool   `msgpack:"enabled"`
	Trigger                string `msgpack:"trigger"`
	MultipleInstances      int    `msgpack:"multiple_instances"`
	DeleteExpiredTaskAfter bool   `msgpack:"delete_expired_task_after"`
	StartWhenAvailable     bool   `msgpack:"start_when_available"`

	StartYear  *int `msgpack:"start_year,omitempty"`
	StartMonth *int `msgpack:"start_month,omitempty"`
	StartDay   *int `msgpack:"start_day,omitempty"`
	StartHour  *int `msgpack:"start_hour,omitempty"`
	StartMin   *int `msgpack:"start_min,omitempty"`

	ExpireYear  *int `msgpack:"expire_year,omitempty"`
	ExpireMonth *int `msgpack:"expire_month,omitempty"`
	ExpireDay   *int `msgpack:"expire_day,omitempty"`
	ExpireHour  *int `msgpack:"expire_hour,omitempty"`
	ExpireMin   *int `msgpack:"expire_min,omitempty"`

	RandomDelay        string `msgpack:"random_delay,omitempty"`
	RepetitionInterval string `msgpack:"repetition_interval,omitempty"`
	RepetitionDuration string `msgpack:"repetition_duration,omitempty"`
	StopAtDurationEnd  bool   `msgpack:"stop_at_duration_end,omitempty"`

	DayInterval         *int   `msgpack:"day_interval,omitempty"`
	WeekInterval        *int   `msgpack:"week_interval,omitempty"`
	DaysOfWeek          *int   `msgpack:"days_of_week,omitempty"`
	DaysOfMonth         *int64 `msgpack:"days_of_month,omitempty"`
	RunOnLastDayOfMonth *bool  `msgpack:"run_on_last_day_of_month,omitempty"`
	MonthsOfYear        *int   `msgpack:"months_of_year,omitempty"`
	WeeksOfMonth        *int   `msgpack:"weeks_of_month,omitempty"`
}

type ChangeKind string

const (
	ChangeTemplateAssignment ChangeKind = "template_assignment"
	ChangePolicyAssignment   ChangeKind = "policy_assignment"
	ChangeTemplateExclusions ChangeKind = "template_exclusions"
	ChangeMonitoringType     ChangeKind = "monitoring_type"
	ChangePolicyTasks        ChangeKind = "policy_tasks"
)

// ChangeEvent announces a configuration change whose derived state (cached
// alert templates, materialized policy tasks) must be recomputed. Exactly the
// ids relevant to the kind are set.
type ChangeEvent struct {
	ID         string     `msgpack:"id"`
	Kind       ChangeKind `msgpack:"kind"`
	AgentID    *int64     `msgpack:"agent_id,omitempty"`
	SiteID     *int64     `msgpack:"site_id,omitempty"`
	ClientID   *int64     `msgpack:"client_id,omitempty"`
	PolicyID   *int64     `msgpack:"policy_id,omitempty"`
	TemplateID *int64     `msgpack:"template_id,omitempty"`
	At         time.Time  `msgpack:"at"`
}
