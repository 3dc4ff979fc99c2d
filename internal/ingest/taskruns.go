package ingest

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/natsbus"
)

type TaskRunIngester interface {
	IngestRun(ctx context.Context, run models.TaskRunPayload) error
}

type TaskRunConsumer struct {
	*pullConsumer
	tasks TaskRunIngester
}

func NewTaskRunConsumer(js nats.JetStreamContext, svc TaskRunIngester) *TaskRunConsumer {
	c := &TaskRunConsumer{tasks: svc}
	c.pullConsumer = newPullConsumer(js, "task runs", natsbus.SubjectTaskRuns, "backend-taskruns", c.handle)
	return c
}

func (c *TaskRunConsumer) handle(ctx context.Context, subject string, data []byte) error {
	var run models.TaskRunPayload
	if err := msgpack.Unmarshal(data, &run); err != nil {
		return poison(fmt.Errorf("decode task run: %w", err))
	}
	if run.AgentID == "" {
		run.AgentID = agentFromSubject(subject)
	}
	if run.AgentID == "" {
		return poison(fmt.Errorf("task run %d without agent id", run.ID))
	}
	return c.tasks.IngestRun(ctx, run)
}
