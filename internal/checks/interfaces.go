package checks

import (
	"context"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
)

type Store interface {
	GetAgentByAgentID(ctx context.Context, agentID string) (*models.Agent, error)
	LoadLineage(ctx context.Context, agentID int64) (*policy.Lineage, error)
	GetCheck(ctx context.Context, id int64) (*models.Check, error)
	GetOrCreateCheckResult(ctx context.Context, checkID, agentID int64) (*models.CheckResult, error)
	SaveCheckResult(ctx context.Context, r *models.CheckResult) error
}

// AlertHandler receives check failures and recoveries.
type AlertHandler interface {
	HandleFailure(ctx context.Context, s alerts.Subject) error
	HandleResolve(ctx context.Context, s alerts.Subject) error
}
