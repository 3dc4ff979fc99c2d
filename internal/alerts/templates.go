package alerts

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
	"fleetpilot-backend/internal/storage"
)

// ResolveTemplate walks the inheritance chain and returns the first active
// template that does not exclude the agent:
//
//  1. agent policy template
//  2. site policy template
//  3. site template
//  4. client policy template
//  5. client template
//  6. tenant default template, then the default policy's template
func ResolveTemplate(l *policy.Lineage) *models.AlertTemplate {
	pols := policy.Applicable(l)

	var siteTemplate, clientTemplate, coreTemplate *int64
	if l.Site != nil {
		siteTemplate = l.Site.AlertTemplateID
	}
	if l.Client != nil {
		clientTemplate = l.Client.AlertTemplateID
	}
	if l.Core != nil {
		coreTemplate = l.Core.AlertTemplateID
	}

	steps := []*int64{
		policyTemplate(pols.Agent),
		policyTemplate(pols.Site),
		siteTemplate,
		policyTemplate(pols.Client),
		clientTemplate,
		coreTemplate,
		policyTemplate(pols.Default),
	}

	clientID := l.ClientID()
	for _, id := range steps {
		t := l.Template(id)
		if t == nil || !t.IsActive || t.ExcludesAgent(l.Agent, clientID) {
			continue
		}
		return t
	}
	return nil
}

func policyTemplate(p *models.Policy) *int64 {
	if p == nil {
		return nil
	}
	return p.AlertTemplateID
}

// Resolver keeps each agent's cached alert_template_id current.
type Resolver struct {
	store TemplateStore
}

func NewResolver(store TemplateStore) *Resolver {
	return &Resolver{store: store}
}

// Refresh recomputes the agent's template and stores it when it changed.
func (r *Resolver) Refresh(ctx context.Context, agentID int64) (bool, error) {
	lineage, err := r.store.LoadLineage(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("load lineage for agent %d: %w", agentID, err)
	}

	var next *int64
	if t := ResolveTemplate(lineage); t != nil {
		id := t.ID
		next = &id
	}

	if sameID(lineage.Agent.AlertTemplateID, next) {
		return false, nil
	}
	if err := r.store.SetAgentAlertTemplate(ctx, agentID, next); err != nil {
		return false, fmt.Errorf("set alert template for agent %d: %w", agentID, err)
	}
	lineage.Agent.AlertTemplateID = next
	return true, nil
}

// RefreshMany refreshes the given agents. Failures are logged per agent.
func (r *Resolver) RefreshMany(ctx context.Context, agentIDs []int64) int {
	changed := 0
	for _, id := range agentIDs {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.Refresh(ctx, id)
		if errors.Is(err, storage.ErrAgentNotFound) {
			continue
		}
		if err != nil {
			log.WithField("agent", id).Warnf("template refresh failed: %v", err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed
}

// RefreshAll recomputes the cached template of every agent.
func (r *Resolver) RefreshAll(ctx context.Context) (int, error) {
	ids, err := r.store.ListAgentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}
	return r.RefreshMany(ctx, ids), nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
