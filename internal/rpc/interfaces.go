package rpc

import (
	"context"

	"fleetpilot-backend/internal/models"
)

//go:generate mockgen -destination=mock_rpc.go -package=rpc fleetpilot-backend/internal/rpc Commander

// Commander sends commands to agents over the command channel.
type Commander interface {
	Send(ctx context.Context, agentID string, cmd models.Command) Result
}
