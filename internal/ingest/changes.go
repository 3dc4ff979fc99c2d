package ingest

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
	"fleetpilot-backend/internal/storage"
	"fleetpilot-backend/internal/tasks"
)

const changeSubjectPrefix = "fleetpilot.changes."

// Publisher announces configuration changes.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

type ChangePublisher struct {
	js  nats.JetStreamContext
	now func() time.Time
}

func NewChangePublisher(js nats.JetStreamContext) *ChangePublisher {
	return &ChangePublisher{js: js, now: time.Now}
}

// Publish stamps the event with an id and time when missing and writes it to
// fleetpilot.changes.<kind>. The id doubles as the JetStream dedup key.
func (p *ChangePublisher) Publish(ctx context.Context, ev models.ChangeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if _, err := p.js.Publish(changeSubjectPrefix+string(ev.Kind), data, nats.Context(ctx), nats.MsgId(ev.ID)); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// AgentScope maps a change to the agents it can affect.
type AgentScope interface {
	ListAgentIDs(ctx context.Context) ([]int64, error)
	AgentIDsForSite(ctx context.Context, siteID int64) ([]int64, error)
	AgentIDsForClient(ctx context.Context, clientID int64) ([]int64, error)
	AgentIDsForPolicy(ctx context.Context, policyID int64) ([]int64, error)
}

type TemplateRefresher interface {
	RefreshMany(ctx context.Context, agentIDs []int64) int
}

type TaskReplanner interface {
	Replan(ctx context.Context, agentID int64) (tasks.Changes, error)
}

// ChangeConsumer recomputes derived state after configuration changes.
// Every step is idempotent, so redelivery is harmless.
type ChangeConsumer struct {
	*pullConsumer
	scope     AgentScope
	templates TemplateRefresher
	tasks     TaskReplanner
}

func NewChangeConsumer(js nats.JetStreamContext, scope AgentScope, templates TemplateRefresher, replanner TaskReplanner) *ChangeConsumer {
	c := &ChangeConsumer{scope: scope, templates: templates, tasks: replanner}
	c.pullConsumer = newPullConsumer(js, "changes", changeSubjectPrefix+">", "backend-changes", c.handle)
	return c
}

func (c *ChangeConsumer) handle(ctx context.Context, _ string, data []byte) error {
	var ev models.ChangeEvent
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return poison(fmt.Errorf("decode change event: %w", err))
	}
	return c.Apply(ctx, ev)
}

// Apply runs the recomputation for one event.
func (c *ChangeConsumer) Apply(ctx context.Context, ev models.ChangeEvent) error {
	var refresh, replan bool
	switch ev.Kind {
	case models.ChangeTemplateAssignment, models.ChangeTemplateExclusions:
		refresh = true
	case models.ChangePolicyAssignment, models.ChangeMonitoringType:
		refresh, replan = true, true
	case models.ChangePolicyTasks:
		replan = true
	default:
		return poison(fmt.Errorf("unknown change kind %q", ev.Kind))
	}

	ids, err := c.agents(ctx, ev)
	if err != nil {
		return fmt.Errorf("scope %s change: %w", ev.Kind, err)
	}

	logger := log.WithField("change", ev.ID)
	if refresh {
		n := c.templates.RefreshMany(ctx, ids)
		logger.Infof("%s: %d of %d agent templates changed", ev.Kind, n, len(ids))
	}
	if replan {
		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, err := c.tasks.Replan(ctx, id)
			if errors.Is(err, storage.ErrAgentNotFound) {
				continue
			}
			if err != nil {
				logger.WithField("agent", id).Warnf("task replan failed: %v", err)
			}
		}
	}
	return nil
}

func (c *ChangeConsumer) agents(ctx context.Context, ev models.ChangeEvent) ([]int64, error) {
	switch {
	case ev.Kind == models.ChangeTemplateExclusions:
		return c.scope.ListAgentIDs(ctx)
	case ev.AgentID != nil:
		return []int64{*ev.AgentID}, nil
	case ev.SiteID != nil:
		return c.scope.AgentIDsForSite(ctx, *ev.SiteID)
	case ev.ClientID != nil:
		return c.scope.AgentIDsForClient(ctx, *ev.ClientID)
	case ev.PolicyID != nil:
		return c.scope.AgentIDsForPolicy(ctx, *ev.PolicyID)
	default:
		return c.scope.ListAgentIDs(ctx)
	}
}
