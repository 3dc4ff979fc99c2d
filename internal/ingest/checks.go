package ingest

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"fleetpilot-backend/internal/checks"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/natsbus"
)

type CheckIngester interface {
	Ingest(ctx context.Context, p models.CheckResultPayload) (checks.Outcome, error)
}

// CheckConsumer feeds check results from agents into the check service.
type CheckConsumer struct {
	*pullConsumer
	checks CheckIngester
}

func NewCheckConsumer(js nats.JetStreamContext, svc CheckIngester) *CheckConsumer {
	c := &CheckConsumer{checks: svc}
	c.pullConsumer = newPullConsumer(js, "checks", natsbus.SubjectChecks, "backend-checks", c.handle)
	return c
}

func (c *CheckConsumer) handle(ctx context.Context, subject string, data []byte) error {
	var p models.CheckResultPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return poison(fmt.Errorf("decode check result: %w", err))
	}
	if p.AgentID == "" {
		p.AgentID = agentFromSubject(subject)
	}
	if p.AgentID == "" {
		return poison(fmt.Errorf("check result %d without agent id", p.ID))
	}
	_, err := c.checks.Ingest(ctx, p)
	return err
}
