package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/storage"
)

// Service records task run results reported by agents.
type Service struct {
	store  Store
	alerts AlertHandler
	now    func() time.Time
}

func NewService(store Store, alerts AlertHandler) *Service {
	return &Service{store: store, alerts: alerts, now: time.Now}
}

// IngestRun stores one run of a task and raises or resolves the task alert.
// Runs for unknown agents or tasks, and for tasks overridden by policy, are
// dropped. Alert failures after the run is stored are logged, not returned.
func (s *Service) IngestRun(ctx context.Context, run models.TaskRunPayload) error {
	agent, err := s.store.GetAgentByAgentID(ctx, run.AgentID)
	if errors.Is(err, storage.ErrAgentNotFound) {
		log.WithField("agent_id", run.AgentID).Warn("task run from unknown agent")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}

	task, err := s.store.GetTask(ctx, run.ID)
	if errors.Is(err, storage.ErrTaskNotFound) {
		log.WithField("agent_id", run.AgentID).Warnf("task run for unknown task %d", run.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task.AgentID == nil || *task.AgentID != agent.ID {
		log.WithField("agent_id", run.AgentID).Warnf("task %d does not belong to agent", run.ID)
		return nil
	}

	if task.OverriddenByPolicy {
		log.WithField("agent_id", run.AgentID).Debugf("ignoring run of overridden task %d", run.ID)
		return nil
	}

	result, err := s.store.EnsureTaskResult(ctx, task.ID, agent.ID)
	if err != nil {
		return fmt.Errorf("task result: %w", err)
	}

	now := s.now()
	result.Retcode = run.Retcode
	result.Stdout = run.Stdout
	result.Stderr = run.Stderr
	result.LastRun = &now
	result.Status = models.CheckPassing
	if run.Retcode != 0 {
		result.Status = models.CheckFailing
	}
	if err := s.store.SaveTaskRun(ctx, result); err != nil {
		return fmt.Errorf("save task run: %w", err)
	}

	subject := alerts.TaskSubject(agent, task, result)
	if result.Status == models.CheckFailing {
		err = s.alerts.HandleFailure(ctx, subject)
	} else {
		err = s.alerts.HandleResolve(ctx, subject)
	}
	if err != nil {
		log.WithField("agent_id", run.AgentID).WithError(err).Errorf("task %d alert", task.ID)
	}
	return nil
}
