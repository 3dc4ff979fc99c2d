package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"fleetpilot-backend/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
		is   error
	}{
		{name: "no_responders", err: nats.ErrNoResponders, want: Timeout, is: ErrAgentOffline},
		{name: "timeout", err: nats.ErrTimeout, want: Timeout, is: ErrTimeout},
		{name: "deadline", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: Timeout, is: ErrTimeout},
		{name: "closed", err: nats.ErrConnectionClosed, want: TransportDown, is: ErrTransportDown},
		{name: "unknown", err: errors.New("boom"), want: TransportDown, is: ErrTransportDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := classify(tt.err)
			assert.Equal(t, tt.want, r.Kind)
			assert.True(t, r.Soft())
			assert.ErrorIs(t, r.Err(), tt.is)
		})
	}
}

func TestResultDecode(t *testing.T) {
	data, err := msgpack.Marshal([]string{"FleetPilot_a", "FleetPilot_b"})
	require.NoError(t, err)

	var names []string
	require.NoError(t, Result{Kind: OK, Data: data}.Decode(&names))
	assert.Equal(t, []string{"FleetPilot_a", "FleetPilot_b"}, names)

	err = Result{Kind: RemoteError, Message: "access denied"}.Decode(&names)
	assert.EqualError(t, err, "remote error: access denied")
}

func TestSendWithoutConnection(t *testing.T) {
	c := NewClient(nil)
	r := c.Send(context.Background(), "agent-1", modelsCommand())
	assert.Equal(t, TransportDown, r.Kind)
	assert.Equal(t, "natsdown", r.Kind.String())
}

func modelsCommand() models.Command {
	return models.Command{Func: models.FuncListSchedTasks}
}
