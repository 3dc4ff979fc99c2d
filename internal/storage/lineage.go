package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
)

const templateColumns = `
	id, name, is_active, email_recipients, text_recipients, email_from,
	agent_email_on_resolved, agent_text_on_resolved, agent_always_email,
	agent_always_text, agent_always_alert, agent_periodic_alert_days,
	check_email_alert_severity, check_text_alert_severity,
	check_dashboard_alert_severity, check_email_on_resolved,
	check_text_on_resolved, check_always_email, check_always_text,
	check_always_alert, check_periodic_alert_days,
	task_email_alert_severity, task_text_alert_severity,
	task_dashboard_alert_severity, task_email_on_resolved,
	task_text_on_resolved, task_always_email, task_always_text,
	task_always_alert, task_periodic_alert_days,
	excluded_agents, excluded_sites, excluded_clients,
	exclude_workstations, exclude_servers`

const policyColumns = `
	id, name, active, enforced, alert_template_id,
	excluded_agents, excluded_sites, excluded_clients`

// GetCoreSettings returns the tenant settings row. A missing row yields
// zero settings, which means no defaults and no recipients.
func (s *Storage) GetCoreSettings(ctx context.Context) (*models.CoreSettings, error) {
	query := `
		SELECT server_policy_id, workstation_policy_id, alert_template_id,
			smtp_host, smtp_port, smtp_security, smtp_user, smtp_password,
			smtp_from_email, email_alert_recipients, sms_alert_recipients,
			twilio_number, twilio_account_sid, twilio_auth_token,
			resolved_alerts_prune_days
		FROM core_settings
		LIMIT 1
	`
	var core models.CoreSettings
	err := s.db.GetContext(ctx, &core, query)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.CoreSettings{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &core, nil
}

func (s *Storage) GetSite(ctx context.Context, id int64) (*models.Site, error) {
	var site models.Site
	query := `
		SELECT id, client_id, name, server_policy_id, workstation_policy_id,
			alert_template_id, block_policy_inheritance
		FROM sites
		WHERE id = $1
	`
	err := s.db.GetContext(ctx, &site, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *Storage) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	var client models.Client
	query := `
		SELECT id, name, server_policy_id, workstation_policy_id,
			alert_template_id, block_policy_inheritance
		FROM clients
		WHERE id = $1
	`
	err := s.db.GetContext(ctx, &client, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *Storage) GetPolicy(ctx context.Context, id int64) (*models.Policy, error) {
	var p models.Policy
	err := s.db.GetContext(ctx, &p, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) GetAlertTemplate(ctx context.Context, id int64) (*models.AlertTemplate, error) {
	var t models.AlertTemplate
	err := s.db.GetContext(ctx, &t, `SELECT `+templateColumns+` FROM alert_templates WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadLineage reads the agent, its site and client, the core settings and
// every policy and template they reference.
func (s *Storage) LoadLineage(ctx context.Context, agentID int64) (*policy.Lineage, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	site, err := s.GetSite(ctx, agent.SiteID)
	if err != nil {
		return nil, fmt.Errorf("site %d: %w", agent.SiteID, err)
	}
	client, err := s.GetClient(ctx, site.ClientID)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", site.ClientID, err)
	}
	core, err := s.GetCoreSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("core settings: %w", err)
	}

	l := &policy.Lineage{
		Agent:     agent,
		Site:      site,
		Client:    client,
		Core:      core,
		Policies:  make(map[int64]*models.Policy),
		Templates: make(map[int64]*models.AlertTemplate),
	}

	policyIDs := collectIDs(
		agent.PolicyID,
		site.ServerPolicyID, site.WorkstationPolicyID,
		client.ServerPolicyID, client.WorkstationPolicyID,
		core.ServerPolicyID, core.WorkstationPolicyID,
	)
	if len(policyIDs) > 0 {
		var policies []models.Policy
		query := `SELECT ` + policyColumns + ` FROM policies WHERE id = ANY($1)`
		if err := s.db.SelectContext(ctx, &policies, query, pq.Array(policyIDs)); err != nil {
			return nil, fmt.Errorf("policies: %w", err)
		}
		for i := range policies {
			l.Policies[policies[i].ID] = &policies[i]
		}
	}

	templateRefs := []*int64{site.AlertTemplateID, client.AlertTemplateID, core.AlertTemplateID}
	for _, p := range l.Policies {
		templateRefs = append(templateRefs, p.AlertTemplateID)
	}
	templateIDs := collectIDs(templateRefs...)
	if len(templateIDs) > 0 {
		var templates []models.AlertTemplate
		query := `SELECT ` + templateColumns + ` FROM alert_templates WHERE id = ANY($1)`
		if err := s.db.SelectContext(ctx, &templates, query, pq.Array(templateIDs)); err != nil {
			return nil, fmt.Errorf("alert templates: %w", err)
		}
		for i := range templates {
			l.Templates[templates[i].ID] = &templates[i]
		}
	}

	return l, nil
}

func (s *Storage) SetSiteAlertTemplate(ctx context.Context, siteID int64, templateID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sites SET alert_template_id = $1 WHERE id = $2`, templateID, siteID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSiteNotFound)
}

func (s *Storage) SetClientAlertTemplate(ctx context.Context, clientID int64, templateID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET alert_template_id = $1 WHERE id = $2`, templateID, clientID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrClientNotFound)
}

func (s *Storage) SetPolicyAlertTemplate(ctx context.Context, policyID int64, templateID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE policies SET alert_template_id = $1 WHERE id = $2`, templateID, policyID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrPolicyNotFound)
}

func collectIDs(refs ...*int64) []int64 {
	seen := make(map[int64]bool, len(refs))
	out := make([]int64, 0, len(refs))
	for _, r := range refs {
		if r == nil || seen[*r] {
			continue
		}
		seen[*r] = true
		out = append(out, *r)
	}
	return out
}
