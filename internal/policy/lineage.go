// Package policy computes which automation policies and alert templates apply
// to an agent. Everything here is pure: callers load a Lineage once and the
// functions only read it.
package policy

import "fleetpilot-backend/internal/models"

// Lineage is the agent together with everything above it in the hierarchy.
// Policies and Templates hold every row referenced by the agent, its site, its
// client and the core settings, keyed by id.
type Lineage struct {
	Agent     *models.Agent
	Site      *models.Site
	Client    *models.Client
	Core      *models.CoreSettings
	Policies  map[int64]*models.Policy
	Templates map[int64]*models.AlertTemplate
}

func (l *Lineage) policy(id *int64) *models.Policy {
	if id == nil || l.Policies == nil {
		return nil
	}
	return l.Policies[*id]
}

// Template looks up a template by optional id.
func (l *Lineage) Template(id *int64) *models.AlertTemplate {
	if id == nil || l.Templates == nil {
		return nil
	}
	return l.Templates[*id]
}

// ClientID is the id of the agent's client, or 0 when unknown.
func (l *Lineage) ClientID() int64 {
	if l.Client != nil {
		return l.Client.ID
	}
	if l.Site != nil {
		return l.Site.ClientID
	}
	return 0
}

// Policies is the applied policy at each level. A nil entry means the level
// has no policy, or it was dropped by exclusion, deactivation or blocked
// inheritance.
type Policies struct {
	Agent   *models.Policy
	Site    *models.Policy
	Client  *models.Policy
	Default *models.Policy
}

// Effective returns the highest precedence applied policy.
func (p Policies) Effective() *models.Policy {
	switch {
	case p.Agent != nil:
		return p.Agent
	case p.Site != nil:
		return p.Site
	case p.Client != nil:
		return p.Client
	default:
		return p.Default
	}
}

// All returns the applied policies in precedence order, without nils.
func (p Policies) All() []*models.Policy {
	out := make([]*models.Policy, 0, 4)
	for _, pol := range []*models.Policy{p.Agent, p.Site, p.Client, p.Default} {
		if pol != nil {
			out = append(out, pol)
		}
	}
	return out
}

// Applicable resolves the agent, site, client and default policy for the
// agent's monitoring type. The same policy assigned at several levels is only
// reported at the most specific one.
func Applicable(l *Lineage) Policies {
	agent := l.Agent
	mt := agent.MonitoringType
	clientID := l.ClientID()

	var sitePolicyID, clientPolicyID, defaultPolicyID *int64
	if l.Site != nil {
		sitePolicyID = l.Site.PolicyFor(mt)
	}
	if l.Client != nil {
		clientPolicyID = l.Client.PolicyFor(mt)
	}
	if l.Core != nil {
		defaultPolicyID = l.Core.DefaultPolicyFor(mt)
	}

	usable := func(p *models.Policy) bool {
		return p != nil && p.Active && !p.ExcludesAgent(agent, clientID)
	}

	siteBlocks := l.Site != nil && l.Site.BlockPolicyInheritance
	clientBlocks := l.Client != nil && l.Client.BlockPolicyInheritance

	var out Policies
	seen := make(map[int64]bool, 4)

	take := func(p *models.Policy, blocked bool) *models.Policy {
		if p == nil || seen[p.ID] {
			return nil
		}
		seen[p.ID] = true
		if blocked || !usable(p) {
			return nil
		}
		return p
	}

	out.Agent = take(l.policy(agent.PolicyID), false)
	out.Site = take(l.policy(sitePolicyID), agent.BlockPolicyInheritance)
	out.Client = take(l.policy(clientPolicyID), agent.BlockPolicyInheritance || siteBlocks)
	out.Default = take(l.policy(defaultPolicyID), agent.BlockPolicyInheritance || siteBlocks || clientBlocks)
	return out
}
