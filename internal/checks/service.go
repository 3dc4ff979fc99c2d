package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
	"fleetpilot-backend/internal/storage"
)

// Outcome describes what one ingested result did to its check result row.
type Outcome struct {
	Status    models.CheckStatus
	Severity  models.Severity
	FailCount int
	// Eligible is set while the failure streak has reached fails_b4_alert.
	Eligible bool
	// BecameEligible is set only on the result that reached it.
	BecameEligible bool
}

type Service struct {
	store  Store
	alerts AlertHandler
	window int
	now    func() time.Time
}

func NewService(store Store, alerts AlertHandler, window int) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{store: store, alerts: alerts, window: window, now: time.Now}
}

// Ingest evaluates one result and raises or resolves the check alert.
// Results for unknown agents or checks, or for checks that do not apply to
// the agent, are dropped. Errors are returned only while nothing has been
// stored; alert failures after the result is saved are logged.
func (s *Service) Ingest(ctx context.Context, p models.CheckResultPayload) (Outcome, error) {
	logger := log.WithField("agent_id", p.AgentID)

	agent, err := s.store.GetAgentByAgentID(ctx, p.AgentID)
	if errors.Is(err, storage.ErrAgentNotFound) {
		logger.Warn("check result from unknown agent")
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get agent: %w", err)
	}

	check, err := s.store.GetCheck(ctx, p.ID)
	if errors.Is(err, storage.ErrCheckNotFound) {
		logger.Warnf("result for unknown check %d", p.ID)
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get check: %w", err)
	}

	ok, err := s.applies(ctx, agent, check)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		logger.Warnf("check %d does not apply to agent", check.ID)
		return Outcome{}, nil
	}

	result, err := s.store.GetOrCreateCheckResult(ctx, check.ID, agent.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check result: %w", err)
	}

	status, severity := Evaluate(check, result, p, s.window)
	now := s.now()
	result.Status = status
	result.AlertSeverity = severity
	result.LastRun = &now

	switch status {
	case models.CheckFailing:
		result.FailCount++
	case models.CheckPassing:
		result.FailCount = 0
	}

	if err := s.store.SaveCheckResult(ctx, result); err != nil {
		return Outcome{}, fmt.Errorf("save check result: %w", err)
	}

	threshold := max(check.FailsB4Alert, 1)
	out := Outcome{
		Status:    status,
		Severity:  severity,
		FailCount: result.FailCount,
	}
	if status == models.CheckFailing {
		out.Eligible = result.FailCount >= threshold
		out.BecameEligible = result.FailCount == threshold
	}

	subject := alerts.CheckSubject(agent, check, result)
	switch {
	case out.Eligible:
		err = s.alerts.HandleFailure(ctx, subject)
	case status == models.CheckPassing:
		err = s.alerts.HandleResolve(ctx, subject)
	}
	if err != nil {
		// The result is already stored, so a redelivery would count this
		// observation twice. The next result re-drives the alert.
		logger.WithError(err).Errorf("check %d alert", check.ID)
	}
	return out, nil
}

func (s *Service) applies(ctx context.Context, agent *models.Agent, check *models.Check) (bool, error) {
	if check.AgentID != nil {
		return *check.AgentID == agent.ID, nil
	}
	if check.PolicyID == nil {
		return false, nil
	}
	lineage, err := s.store.LoadLineage(ctx, agent.ID)
	if err != nil {
		return false, fmt.Errorf("load lineage: %w", err)
	}
	for _, p := range policy.Applicable(lineage).All() {
		if p.ID == *check.PolicyID {
			return true, nil
		}
	}
	return false, nil
}
