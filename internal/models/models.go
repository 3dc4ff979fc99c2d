package models

import (
	"time"

	"github.com/lib/pq"
)

type MonitoringType string

const (
	MonitoringServer      MonitoringType = "server"
	MonitoringWorkstation MonitoringType = "workstation"
)

type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
	AgentOverdue AgentStatus = "overdue"
)

const (
	DefaultOfflineMinutes = 4
	DefaultOverdueMinutes = 30
)

type Agent struct {
	ID                     int64          `json:"id" db:"id"`
	AgentID                string         `json:"agent_id" db:"agent_id"`
	Hostname               string         `json:"hostname" db:"hostname"`
	SiteID                 int64          `json:"site_id" db:"site_id"`
	Platform               string         `json:"platform" db:"platform"`
	MonitoringType         MonitoringType `json:"monitoring_type" db:"monitoring_type"`
	LastSeen               *time.Time     `json:"last_seen" db:"last_seen"`
	OfflineTime            int            `json:"offline_time" db:"offline_time"`
	OverdueTime            int            `json:"overdue_time" db:"overdue_time"`
	MaintenanceMode        bool           `json:"maintenance_mode" db:"maintenance_mode"`
	OverdueEmailAlert      bool           `json:"overdue_email_alert" db:"overdue_email_alert"`
	OverdueTextAlert       bool           `json:"overdue_text_alert" db:"overdue_text_alert"`
	OverdueDashboardAlert  bool           `json:"overdue_dashboard_alert" db:"overdue_dashboard_alert"`
	PolicyID               *int64         `json:"policy_id" db:"policy_id"`
	BlockPolicyInheritance bool           `json:"block_policy_inheritance" db:"block_policy_inheritance"`
	AlertTemplateID        *int64         `json:"alert_template_id" db:"alert_template_id"`
}

type Client struct {
	ID                     int64  `json:"id" db:"id"`
	Name                   string `json:"name" db:"name"`
	ServerPolicyID         *int64 `json:"server_policy_id" db:"server_policy_id"`
	WorkstationPolicyID    *int64 `json:"workstation_policy_id" db:"workstation_policy_id"`
	AlertTemplateID        *int64 `json:"alert_template_id" db:"alert_template_id"`
	BlockPolicyInheritance bool   `json:"block_policy_inheritance" db:"block_policy_inheritance"`
}

type Site struct {
	ID                     int64  `json:"id" db:"id"`
	ClientID               int64  `json:"client_id" db:"client_id"`
	Name                   string `json:"name" db:"name"`
	ServerPolicyID         *int64 `json:"server_policy_id" db:"server_policy_id"`
	WorkstationPolicyID    *int64 `json:"workstation_policy_id" db:"workstation_policy_id"`
	AlertTemplateID        *int64 `json:"alert_template_id" db:"alert_template_id"`
	BlockPolicyInheritance bool   `json:"block_policy_inheritance" db:"block_policy_inheritance"`
}

// PolicyFor returns the site or client level policy id for a monitoring type.
func (s *Site) PolicyFor(mt MonitoringType) *int64 {
	if mt == MonitoringServer {
		return s.ServerPolicyID
	}
	return s.WorkstationPolicyID
}

func (c *Client) PolicyFor(mt MonitoringType) *int64 {
	if mt == MonitoringServer {
		return c.ServerPolicyID
	}
	return c.WorkstationPolicyID
}

type Policy struct {
	ID              int64         `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	Active          bool          `json:"active" db:"active"`
	Enforced        bool          `json:"enforced" db:"enforced"`
	AlertTemplateID *int64        `json:"alert_template_id" db:"alert_template_id"`
	ExcludedAgents  pq.Int64Array `json:"excluded_agents" db:"excluded_agents"`
	ExcludedSites   pq.Int64Array `json:"excluded_sites" db:"excluded_sites"`
	ExcludedClients pq.Int64Array `json:"excluded_clients" db:"excluded_clients"`
}

// CoreSettings is the tenant-wide configuration row. Callers hold it as a
// snapshot for the duration of one scan or job.
type CoreSettings struct {
	ServerPolicyID          *int64         `json:"server_policy_id" db:"server_policy_id"`
	WorkstationPolicyID     *int64         `json:"workstation_policy_id" db:"workstation_policy_id"`
	AlertTemplateID         *int64         `json:"alert_template_id" db:"alert_template_id"`
	SMTPHost                string         `json:"smtp_host" db:"smtp_host"`
	SMTPPort                int            `json:"smtp_port" db:"smtp_port"`
	SMTPSecurity            string         `json:"smtp_security" db:"smtp_security"`
	SMTPUser                string         `json:"smtp_user" db:"smtp_user"`
	SMTPPassword            string         `json:"-" db:"smtp_password"`
	SMTPFromEmail           string         `json:"smtp_from_email" db:"smtp_from_email"`
	EmailAlertRecipients    pq.StringArray `json:"email_alert_recipients" db:"email_alert_recipients"`
	SMSAlertRecipients      pq.StringArray `json:"sms_alert_recipients" db:"sms_alert_recipients"`
	TwilioNumber            string         `json:"twilio_number" db:"twilio_number"`
	TwilioAccountSID        string         `json:"twilio_account_sid" db:"twilio_account_sid"`
	TwilioAuthToken         string         `json:"-" db:"twilio_auth_token"`
	ResolvedAlertsPruneDays int            `json:"resolved_alerts_prune_days" db:"resolved_alerts_prune_days"`
}

// DefaultPolicyFor returns the tenant default policy for a monitoring type.
func (c *CoreSettings) DefaultPolicyFor(mt MonitoringType) *int64 {
	if mt == MonitoringServer {
		return c.ServerPolicyID
	}
	return c.WorkstationPolicyID
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ExcludesAgent reports whether the agent, its site or its client is excluded.
func (p *Policy) ExcludesAgent(agent *Agent, clientID int64) bool {
	return containsID(p.ExcludedAgents, agent.ID) ||
		containsID(p.ExcludedSites, agent.SiteID) ||
		containsID(p.ExcludedClients, clientID)
}
