package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fleetpilot-backend/internal/models"
)

const agentColumns = `
	id, agent_id, hostname, site_id, platform, monitoring_type, last_seen,
	offline_time, overdue_time, maintenance_mode, overdue_email_alert,
	overdue_text_alert, overdue_dashboard_alert, policy_id,
	block_policy_inheritance, alert_template_id`

func (s *Storage) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.GetContext(ctx, &agent, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *Storage) GetAgentByAgentID(ctx context.Context, agentID string) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.GetContext(ctx, &agent, `SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *Storage) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	err := s.db.SelectContext(ctx, &agents, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	return agents, err
}

func (s *Storage) ListAgentIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM agents ORDER BY id`)
	return ids, err
}

// TouchAgent records a heartbeat. It returns the updated agent and whether
// the reported monitoring type differed from the stored one.
func (s *Storage) TouchAgent(ctx context.Context, agentID string, hb models.Heartbeat, at time.Time) (*models.Agent, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var current models.MonitoringType
	err = tx.GetContext(ctx, &current, `SELECT monitoring_type FROM agents WHERE agent_id = $1 FOR UPDATE`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrAgentNotFound
	}
	if err != nil {
		return nil, false, err
	}

	next := current
	if hb.MonitoringType != "" {
		next = hb.MonitoringType
	}

	query := `
		UPDATE agents
		SET last_seen = $1,
			hostname = COALESCE(NULLIF($2, ''), hostname),
			platform = COALESCE(NULLIF($3, ''), platform),
			monitoring_type = $4
		WHERE agent_id = $5
		RETURNING ` + agentColumns

	var agent models.Agent
	if err := tx.GetContext(ctx, &agent, query, at, hb.Hostname, hb.OS, next, agentID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &agent, next != current, nil
}

func (s *Storage) SetAgentAlertTemplate(ctx context.Context, agentID int64, templateID *int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET alert_template_id = $1 WHERE id = $2`, templateID, agentID)
	return err
}

func (s *Storage) SetAgentPolicy(ctx context.Context, agentID int64, policyID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET policy_id = $1 WHERE id = $2`, policyID, agentID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrAgentNotFound)
}

func (s *Storage) AgentIDsForSite(ctx context.Context, siteID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM agents WHERE site_id = $1 ORDER BY id`, siteID)
	return ids, err
}

func (s *Storage) AgentIDsForClient(ctx context.Context, clientID int64) ([]int64, error) {
	var ids []int64
	query := `
		SELECT a.id
		FROM agents a
		JOIN sites s ON s.id = a.site_id
		WHERE s.client_id = $1
		ORDER BY a.id
	`
	err := s.db.SelectContext(ctx, &ids, query, clientID)
	return ids, err
}

// AgentIDsForPolicy returns every agent the policy can reach: assigned
// directly, through its site or client, or as a tenant default.
func (s *Storage) AgentIDsForPolicy(ctx context.Context, policyID int64) ([]int64, error) {
	var ids []int64
	query := `
		SELECT a.id
		FROM agents a
		JOIN sites s ON s.id = a.site_id
		JOIN clients c ON c.id = s.client_id
		CROSS JOIN core_settings cs
		WHERE a.policy_id = $1
		   OR (a.monitoring_type = 'server' AND $1 IN (s.server_policy_id, c.server_policy_id, cs.server_policy_id))
		   OR (a.monitoring_type = 'workstation' AND $1 IN (s.workstation_policy_id, c.workstation_policy_id, cs.workstation_policy_id))
		ORDER BY a.id
	`
	err := s.db.SelectContext(ctx, &ids, query, policyID)
	return ids, err
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
