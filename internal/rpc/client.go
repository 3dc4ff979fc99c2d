package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"fleetpilot-backend/internal/models"
)

var (
	ErrAgentOffline  = errors.New("agent is offline")
	ErrTimeout       = errors.New("request timed out")
	ErrTransportDown = errors.New("nats is down")
)

const (
	defaultTimeout = 15 * time.Second
	maxTimeout     = 125 * time.Second
)

type Client struct {
	nc *nats.Conn
}

func NewClient(nc *nats.Conn) *Client {
	return &Client{nc: nc}
}

// Send issues cmd to the agent and waits for its reply. cmd.Timeout is the
// agent side execution budget in seconds; the request waits a few seconds
// longer.
func (c *Client) Send(ctx context.Context, agentID string, cmd models.Command) Result {
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.New().String()
	}

	payload, err := msgpack.Marshal(&cmd)
	if err != nil {
		return Result{Kind: RemoteError, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	if c.nc == nil || !c.nc.IsConnected() {
		return Result{Kind: TransportDown}
	}

	timeout := time.Duration(cmd.Timeout)*time.Second + 5*time.Second
	if cmd.Timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	subject := fmt.Sprintf("fleet.%s.rpc", agentID)
	msg, err := c.nc.RequestWithContext(reqCtx, subject, payload)
	if err != nil {
		return classify(err)
	}

	var resp models.CommandResponse
	if err := msgpack.Unmarshal(msg.Data, &resp); err != nil {
		log.WithField("agent_id", agentID).Warnf("undecodable rpc reply to %s: %v", cmd.Func, err)
		return Result{Kind: RemoteError, Message: fmt.Sprintf("unmarshal response: %v", err)}
	}
	if resp.Status != "ok" {
		return Result{Kind: RemoteError, Message: resp.Error, Data: resp.Data}
	}
	return Result{Kind: OK, Data: resp.Data}
}

func classify(err error) Result {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return Result{Kind: Timeout, Message: ErrAgentOffline.Error()}
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Result{Kind: Timeout}
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionDraining), errors.Is(err, nats.ErrConnectionReconnecting):
		return Result{Kind: TransportDown, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return Result{Kind: Timeout, Message: err.Error()}
	default:
		return Result{Kind: TransportDown, Message: err.Error()}
	}
}
