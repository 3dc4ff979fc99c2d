package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

type AlertType string

const (
	AlertAvailability AlertType = "availability"
	AlertCheck        AlertType = "check"
	AlertTask         AlertType = "task"
)

// TargetKey is the canonical identity of an alert target. At most one
// unresolved alert exists per key.
func TargetKey(t AlertType, targetID int64) string {
	return fmt.Sprintf("%s:%d", t, targetID)
}

type Alert struct {
	ID                    int64      `json:"id" db:"id"`
	AgentID               int64      `json:"agent_id" db:"agent_id"`
	AssignedCheckResultID *int64     `json:"assigned_check_result_id" db:"assigned_check_result_id"`
	AssignedTaskResultID  *int64     `json:"assigned_task_result_id" db:"assigned_task_result_id"`
	AlertType             AlertType  `json:"alert_type" db:"alert_type"`
	TargetKey             string     `json:"-" db:"target_key"`
	Message               string     `json:"message" db:"message"`
	Severity              Severity   `json:"severity" db:"severity"`
	AlertTime             time.Time  `json:"alert_time" db:"alert_time"`
	Resolved              bool       `json:"resolved" db:"resolved"`
	ResolvedOn            *time.Time `json:"resolved_on" db:"resolved_on"`
	Snoozed               bool       `json:"snoozed" db:"snoozed"`
	SnoozeUntil           *time.Time `json:"snooze_until" db:"snooze_until"`
	Hidden                bool       `json:"hidden" db:"hidden"`
	EmailSent             *time.Time `json:"email_sent" db:"email_sent"`
	SMSSent               *time.Time `json:"sms_sent" db:"sms_sent"`
	ResolvedEmailSent     *time.Time `json:"resolved_email_sent" db:"resolved_email_sent"`
	ResolvedSMSSent       *time.Time `json:"resolved_sms_sent" db:"resolved_sms_sent"`
}

// NotifyField names one of the four per-channel "sent" timestamps.
type NotifyField string

const (
	FieldEmailSent         NotifyField = "email_sent"
	FieldSMSSent           NotifyField = "sms_sent"
	FieldResolvedEmailSent NotifyField = "resolved_email_sent"
	FieldResolvedSMSSent   NotifyField = "resolved_sms_sent"
)

// Sent returns the timestamp stored in the given field.
func (a *Alert) Sent(f NotifyField) *time.Time {
	switch f {
	case FieldEmailSent:
		return a.EmailSent
	case FieldSMSSent:
		return a.SMSSent
	case FieldResolvedEmailSent:
		return a.ResolvedEmailSent
	case FieldResolvedSMSSent:
		return a.ResolvedSMSSent
	}
	return nil
}

func (a *Alert) SetSent(f NotifyField, at *time.Time) {
	switch f {
	case FieldEmailSent:
		a.EmailSent = at
	case FieldSMSSent:
		a.SMSSent = at
	case FieldResolvedEmailSent:
		a.ResolvedEmailSent = at
	case FieldResolvedSMSSent:
		a.ResolvedSMSSent = at
	}
}

type AlertTemplate struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	IsActive bool   `json:"is_active" db:"is_active"`

	EmailRecipients pq.StringArray `json:"email_recipients" db:"email_recipients"`
	TextRecipients  pq.StringArray `json:"text_recipients" db:"text_recipients"`
	EmailFrom       string         `json:"email_from" db:"email_from"`

	AgentEmailOnResolved   bool `json:"agent_email_on_resolved" db:"agent_email_on_resolved"`
	AgentTextOnResolved    bool `json:"agent_text_on_resolved" db:"agent_text_on_resolved"`
	AgentAlwaysEmail       bool `json:"agent_always_email" db:"agent_always_email"`
	AgentAlwaysText        bool `json:"agent_always_text" db:"agent_always_text"`
	AgentAlwaysAlert       bool `json:"agent_always_alert" db:"agent_always_alert"`
	AgentPeriodicAlertDays int  `json:"agent_periodic_alert_days" db:"agent_periodic_alert_days"`

	CheckEmailAlertSeverity     pq.StringArray `json:"check_email_alert_severity" db:"check_email_alert_severity"`
	CheckTextAlertSeverity      pq.StringArray `json:"check_text_alert_severity" db:"check_text_alert_severity"`
	CheckDashboardAlertSeverity pq.StringArray `json:"check_dashboard_alert_severity" db:"check_dashboard_alert_severity"`
	CheckEmailOnResolved        bool           `json:"check_email_on_resolved" db:"check_email_on_resolved"`
	CheckTextOnResolved         bool           `json:"check_text_on_resolved" db:"check_text_on_resolved"`
	CheckAlwaysEmail            bool           `json:"check_always_email" db:"check_always_email"`
	CheckAlwaysText             bool           `json:"check_always_text" db:"check_always_text"`
	CheckAlwaysAlert            bool           `json:"check_always_alert" db:"check_always_alert"`
	CheckPeriodicAlertDays      int            `json:"check_periodic_alert_days" db:"check_periodic_alert_days"`

	TaskEmailAlertSeverity     pq.StringArray `json:"task_email_alert_severity" db:"task_email_alert_severity"`
	TaskTextAlertSeverity      pq.StringArray `json:"task_text_alert_severity" db:"task_text_alert_severity"`
	TaskDashboardAlertSeverity pq.StringArray `json:"task_dashboard_alert_severity" db:"task_dashboard_alert_severity"`
	TaskEmailOnResolved        bool           `json:"task_email_on_resolved" db:"task_email_on_resolved"`
	TaskTextOnResolved         bool           `json:"task_text_on_resolved" db:"task_text_on_resolved"`
	TaskAlwaysEmail            bool           `json:"task_always_email" db:"task_always_email"`
	TaskAlwaysText             bool           `json:"task_always_text" db:"task_always_text"`
	TaskAlwaysAlert            bool           `json:"task_always_alert" db:"task_always_alert"`
	TaskPeriodicAlertDays      int            `json:"task_periodic_alert_days" db:"task_periodic_alert_days"`

	ExcludedAgents      pq.Int64Array `json:"excluded_agents" db:"excluded_agents"`
	ExcludedSites       pq.Int64Array `json:"excluded_sites" db:"excluded_sites"`
	ExcludedClients     pq.Int64Array `json:"excluded_clients" db:"excluded_clients"`
	ExcludeWorkstations bool          `json:"exclude_workstations" db:"exclude_workstations"`
	ExcludeServers      bool          `json:"exclude_servers" db:"exclude_servers"`
}

// ExcludesAgent applies the explicit exclusion sets and the monitoring type
// switches.
func (t *AlertTemplate) ExcludesAgent(agent *Agent, clientID int64) bool {
	if containsID(t.ExcludedAgents, agent.ID) ||
		containsID(t.ExcludedSites, agent.SiteID) ||
		containsID(t.ExcludedClients, clientID) {
		return true
	}
	switch agent.MonitoringType {
	case MonitoringWorkstation:
		return t.ExcludeWorkstations
	case MonitoringServer:
		return t.ExcludeServers
	}
	return false
}

// AlertFilter drives the alert listing endpoint.
type AlertFilter struct {
	Start      *time.Time
	End        *time.Time
	ClientIDs  []int64
	Severities []Severity
	Snoozed    *bool
	Resolved   *bool
	Limit      int
}

// AlertContext carries the names a notification needs to render.
type AlertContext struct {
	Alert      Alert
	Hostname   string
	ClientName string
	SiteName   string
	CheckName  string
	TaskName   string
	Template   *AlertTemplate
}

// Notification is one rendered outbound message.
type Notification struct {
	Subject string
	Body    string
	From    string
	To      []string
}
