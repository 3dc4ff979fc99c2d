package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
	"fleetpilot-backend/internal/rpc"
	"fleetpilot-backend/internal/storage"
)

const defaultNamePrefix = "FleetPilot_"

var defaultReserved = []string{"fixmesh", "SchedReboot", "sync", "agentupdate"}

// Remote error texts meaning the task is already gone.
var notFoundMessages = []string{
	"cannot find the file specified",
	"task not found",
	"does not exist",
}

// Summary counts what one agent sync did.
type Summary struct {
	Created  int
	Modified int
	Deleted  int
	Skipped  int
}

// Reconciler converges each agent's scheduled tasks with the desired set.
type Reconciler struct {
	store Store
	rpc   rpc.Commander
	cfg   Config
	now   func() time.Time
}

func NewReconciler(store Store, commander rpc.Commander, cfg Config) *Reconciler {
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = defaultNamePrefix
	}
	if len(cfg.ReservedPrefixes) == 0 {
		cfg.ReservedPrefixes = defaultReserved
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 10 * time.Second
	}
	return &Reconciler{store: store, rpc: commander, cfg: cfg, now: time.Now}
}

// Replan applies the local side of reconciliation: materializes policy
// copies, refreshes or retires them, and flips override flags. It never
// talks to the agent.
func (r *Reconciler) Replan(ctx context.Context, agentID int64) (Changes, error) {
	lineage, err := r.store.LoadLineage(ctx, agentID)
	if err != nil {
		return Changes{}, fmt.Errorf("load lineage: %w", err)
	}
	return r.replan(ctx, lineage)
}

func (r *Reconciler) replan(ctx context.Context, lineage *policy.Lineage) (Changes, error) {
	agentID := lineage.Agent.ID

	agentTasks, err := r.store.ListAgentTasks(ctx, agentID)
	if err != nil {
		return Changes{}, fmt.Errorf("list agent tasks: %w", err)
	}

	var policyTasks []models.AutomatedTask
	enforced := false
	if eff := policy.Applicable(lineage).Effective(); eff != nil {
		enforced = eff.Enforced
		policyTasks, err = r.store.ListPolicyTasks(ctx, eff.ID)
		if err != nil {
			return Changes{}, fmt.Errorf("list policy %d tasks: %w", eff.ID, err)
		}
	}

	changes := Plan(agentID, agentTasks, policyTasks, enforced)
	if changes.Empty() {
		return changes, nil
	}

	results, err := r.resultsByTask(ctx, agentID)
	if err != nil {
		return Changes{}, err
	}

	for i := range changes.Materialize {
		t := &changes.Materialize[i]
		t.RemoteName = r.newRemoteName()
		err := r.store.CreateTask(ctx, t)
		if errors.Is(err, storage.ErrTaskExists) {
			// a concurrent replan got there first
			continue
		}
		if err != nil {
			return changes, fmt.Errorf("materialize task %q: %w", t.Name, err)
		}
		if _, err := r.store.EnsureTaskResult(ctx, t.ID, agentID); err != nil {
			return changes, fmt.Errorf("create result for task %d: %w", t.ID, err)
		}
	}

	for i := range changes.Refresh {
		t := &changes.Refresh[i]
		if err := r.store.UpdateTaskDefinition(ctx, t); err != nil {
			return changes, fmt.Errorf("refresh task %d: %w", t.ID, err)
		}
		if res, ok := results[t.ID]; ok && res.SyncStatus == models.SyncSynced {
			if err := r.store.SetTaskSyncStatus(ctx, res.ID, models.SyncNotSynced); err != nil {
				return changes, err
			}
		}
	}

	for _, t := range changes.Stale {
		res, ok := results[t.ID]
		if !ok || res.SyncStatus == models.SyncInitial {
			// Never reached the agent.
			if ok {
				if err := r.store.DeleteTaskResult(ctx, res.ID); err != nil {
					return changes, err
				}
			}
			if err := r.store.DeleteTask(ctx, t.ID); err != nil {
				return changes, fmt.Errorf("delete stale task %d: %w", t.ID, err)
			}
			continue
		}
		if err := r.store.SetTaskSyncStatus(ctx, res.ID, models.SyncPendingDeletion); err != nil {
			return changes, err
		}
	}

	for _, t := range changes.Override {
		if err := r.store.SetTaskOverridden(ctx, t.ID, true); err != nil {
			return changes, err
		}
		if res, ok := results[t.ID]; ok {
			if err := r.store.SetTaskSyncStatus(ctx, res.ID, models.SyncPendingDeletion); err != nil {
				return changes, err
			}
		}
	}

	for _, t := range changes.Release {
		if err := r.store.SetTaskOverridden(ctx, t.ID, false); err != nil {
			return changes, err
		}
		if res, ok := results[t.ID]; ok {
			if err := r.store.SetTaskSyncStatus(ctx, res.ID, models.SyncNotSynced); err != nil {
				return changes, err
			}
		}
	}

	log.WithField("agent", agentID).Infof("task plan applied: %d new, %d refreshed, %d stale, %d overridden, %d released",
		len(changes.Materialize), len(changes.Refresh), len(changes.Stale), len(changes.Override), len(changes.Release))
	return changes, nil
}

// ReconcileAgent replans the agent and pushes every unsynced task to it.
// Channel failures leave sync status untouched and stop the agent's sync.
func (r *Reconciler) ReconcileAgent(ctx context.Context, agent *models.Agent) (Summary, error) {
	var sum Summary

	if _, err := r.Replan(ctx, agent.ID); err != nil {
		return sum, err
	}

	agentTasks, err := r.store.ListAgentTasks(ctx, agent.ID)
	if err != nil {
		return sum, fmt.Errorf("list agent tasks: %w", err)
	}
	byID := make(map[int64]*models.AutomatedTask, len(agentTasks))
	for i := range agentTasks {
		byID[agentTasks[i].ID] = &agentTasks[i]
	}

	results, err := r.resultsByTask(ctx, agent.ID)
	if err != nil {
		return sum, err
	}
	for _, t := range agentTasks {
		if _, ok := results[t.ID]; ok || t.OverriddenByPolicy {
			continue
		}
		res, err := r.store.EnsureTaskResult(ctx, t.ID, agent.ID)
		if err != nil {
			return sum, fmt.Errorf("create result for task %d: %w", t.ID, err)
		}
		results[t.ID] = *res
	}

	for taskID, res := range results {
		if _, ok := byID[taskID]; ok {
			continue
		}
		if err := r.store.DeleteTaskResult(ctx, res.ID); err != nil {
			log.WithField("agent", agent.ID).Warnf("drop orphaned task result %d: %v", res.ID, err)
		}
	}

	for i := range agentTasks {
		task := &agentTasks[i]
		res, ok := results[task.ID]
		if !ok {
			continue
		}
		if task.OverriddenByPolicy && res.SyncStatus != models.SyncPendingDeletion {
			continue
		}

		var outcome rpc.Result
		switch res.SyncStatus {
		case models.SyncSynced:
			continue
		case models.SyncInitial:
			outcome, err = r.create(ctx, agent, task, res.ID, false)
			if err == nil && outcome.Kind == rpc.RemoteError && alreadyExists(outcome.Message) {
				// an earlier create reached the agent but its reply did not
				outcome, err = r.create(ctx, agent, task, res.ID, true)
			}
			if err == nil && outcome.OK() {
				sum.Created++
			}
		case models.SyncNotSynced:
			outcome, err = r.create(ctx, agent, task, res.ID, true)
			if err == nil && outcome.OK() {
				sum.Modified++
			}
		case models.SyncPendingDeletion:
			outcome, err = r.delete(ctx, agent, task, res)
			if err == nil && outcome.OK() {
				sum.Deleted++
			}
		default:
			continue
		}
		if err != nil {
			return sum, err
		}

		if outcome.Soft() {
			log.WithField("agent_id", agent.AgentID).Warnf("task sync stopped: %s", outcome.Kind)
			sum.Skipped++
			return sum, nil
		}
		if !outcome.OK() {
			log.WithField("agent_id", agent.AgentID).Warnf("task %d sync failed: %s", task.ID, outcome.Message)
			sum.Skipped++
		}
	}

	return sum, nil
}

func (r *Reconciler) create(ctx context.Context, agent *models.Agent, task *models.AutomatedTask, resultID int64, overwrite bool) (rpc.Result, error) {
	if task.RemoteName == "" {
		task.RemoteName = r.newRemoteName()
		if err := r.store.SetTaskRemoteName(ctx, task.ID, task.RemoteName); err != nil {
			return rpc.Result{}, fmt.Errorf("name task %d: %w", task.ID, err)
		}
	}

	payload, err := BuildPayload(task, r.now())
	if err != nil {
		log.WithField("agent_id", agent.AgentID).Warnf("task %d has an invalid schedule: %v", task.ID, err)
		return rpc.Result{Kind: rpc.RemoteError, Message: err.Error()}, nil
	}
	payload.OverwriteTask = overwrite

	cmd := models.Command{
		Func:             models.FuncSchedTask,
		SchedTaskPayload: payload,
		Timeout:          int(r.cfg.RPCTimeout / time.Second),
	}
	res := r.rpc.Send(ctx, agent.AgentID, cmd)
	if !res.OK() {
		return res, nil
	}

	if err := r.store.SetTaskSyncStatus(ctx, resultID, models.SyncSynced); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Reconciler) delete(ctx context.Context, agent *models.Agent, task *models.AutomatedTask, result models.TaskResult) (rpc.Result, error) {
	res := r.deleteRemote(ctx, agent.AgentID, task.RemoteName)
	if !res.OK() {
		return res, nil
	}

	if err := r.store.DeleteTaskResult(ctx, result.ID); err != nil {
		return res, err
	}
	// Overridden tasks stay so they come back when enforcement is lifted.
	if !task.OverriddenByPolicy {
		if err := r.store.DeleteTask(ctx, task.ID); err != nil && !errors.Is(err, storage.ErrTaskNotFound) {
			return res, err
		}
	}
	return res, nil
}

// deleteRemote removes a scheduled task by name. A task that is already gone
// counts as deleted.
func (r *Reconciler) deleteRemote(ctx context.Context, agentID, name string) rpc.Result {
	if name == "" {
		return rpc.Result{Kind: rpc.OK}
	}
	cmd := models.Command{
		Func:    models.FuncDelSchedTask,
		Payload: map[string]any{"name": name},
		Timeout: int(r.cfg.RPCTimeout / time.Second),
	}
	res := r.rpc.Send(ctx, agentID, cmd)
	if res.Kind == rpc.RemoteError && alreadyGone(res.Message) {
		return rpc.Result{Kind: rpc.OK}
	}
	return res
}

// RemoveOrphans deletes scheduled tasks on the agent that carry our name
// prefix but have no local task. Reserved system tasks are left alone.
func (r *Reconciler) RemoveOrphans(ctx context.Context, agent *models.Agent) (int, error) {
	cmd := models.Command{Func: models.FuncListSchedTasks, Timeout: int(r.cfg.RPCTimeout / time.Second)}
	res := r.rpc.Send(ctx, agent.AgentID, cmd)
	if !res.OK() {
		return 0, fmt.Errorf("list scheduled tasks: %w", res.Err())
	}

	var remote []string
	if err := res.Decode(&remote); err != nil {
		return 0, fmt.Errorf("decode scheduled tasks: %w", err)
	}

	local, err := r.store.ListAgentTasks(ctx, agent.ID)
	if err != nil {
		return 0, fmt.Errorf("list agent tasks: %w", err)
	}
	known := make(map[string]bool, len(local))
	for _, t := range local {
		if t.RemoteName != "" {
			known[t.RemoteName] = true
		}
	}

	removed := 0
	for _, name := range remote {
		if !strings.HasPrefix(name, r.cfg.NamePrefix) || r.reserved(name) || known[name] {
			continue
		}
		out := r.deleteRemote(ctx, agent.AgentID, name)
		if out.Soft() {
			return removed, fmt.Errorf("delete orphan %s: %w", name, out.Err())
		}
		if !out.OK() {
			log.WithField("agent_id", agent.AgentID).Warnf("delete orphan %s: %s", name, out.Message)
			continue
		}
		log.WithField("agent_id", agent.AgentID).Infof("removed orphaned task %s", name)
		removed++
	}
	return removed, nil
}

func (r *Reconciler) reserved(name string) bool {
	for _, p := range r.cfg.ReservedPrefixes {
		if strings.HasPrefix(name, r.cfg.NamePrefix+p) {
			return true
		}
	}
	return false
}

func (r *Reconciler) resultsByTask(ctx context.Context, agentID int64) (map[int64]models.TaskResult, error) {
	list, err := r.store.ListTaskResults(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	out := make(map[int64]models.TaskResult, len(list))
	for _, res := range list {
		out[res.TaskID] = res
	}
	return out, nil
}

func (r *Reconciler) newRemoteName() string {
	return r.cfg.NamePrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Remote error texts meaning a task with that name is already scheduled.
var existsMessages = []string{
	"already exists",
	"cannot create a file when that file already exists",
}

func alreadyExists(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range existsMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func alreadyGone(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range notFoundMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
