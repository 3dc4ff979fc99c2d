// Package workers runs the periodic control loops of the backend.
package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/cache"
	"fleetpilot-backend/internal/config"
	"fleetpilot-backend/internal/fleet"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/storage"
	"fleetpilot-backend/internal/tasks"
)

const (
	JobAgentOutages = "agent-outages"
	JobUnsnooze     = "unsnooze"
	JobPrune        = "prune-resolved"
	JobTaskSync     = "task-sync"
	JobOrphans      = "orphan-tasks"
	JobRecache      = "template-recache"
)

type Locker interface {
	AcquireLock(ctx context.Context, name string, lease time.Duration) (string, error)
	ExtendLock(ctx context.Context, name, token string, lease time.Duration) error
	ReleaseLock(ctx context.Context, name, token string) error
}

type Store interface {
	GetCoreSettings(ctx context.Context) (*models.CoreSettings, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	GetAgentByAgentID(ctx context.Context, agentID string) (*models.Agent, error)
}

type AlertManager interface {
	HandleFailure(ctx context.Context, s alerts.Subject) error
	UnsnoozeExpired(ctx context.Context) (int64, error)
	PruneResolved(ctx context.Context, days int) (int64, error)
}

type TaskSyncer interface {
	ReconcileAgent(ctx context.Context, agent *models.Agent) (tasks.Summary, error)
	RemoveOrphans(ctx context.Context, agent *models.Agent) (int, error)
}

type TemplateRecacher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// jobFunc runs under the job lock with the settings snapshot taken when the
// lock was acquired.
type jobFunc func(ctx context.Context, core *models.CoreSettings) error

type Driver struct {
	schedules  config.SchedulesConfig
	lease      time.Duration
	renewEvery time.Duration
	tasksCfg   config.TasksConfig

	store     Store
	locks     Locker
	alerts    AlertManager
	tasks     TaskSyncer
	templates TemplateRecacher

	cron *cron.Cron
	now  func() time.Time
}

func NewDriver(cfg *config.Config, store Store, locks Locker, am AlertManager, ts TaskSyncer, tr TemplateRecacher) *Driver {
	return &Driver{
		schedules: cfg.Schedules,
		lease:     cfg.Locks.Lease,
		tasksCfg:  cfg.Tasks,
		store:     store,
		locks:     locks,
		alerts:    am,
		tasks:     ts,
		templates: tr,
		cron:      cron.New(cron.WithLogger(cron.PrintfLogger(log.StandardLogger()))),
		now:       time.Now,
	}
}

// Start registers every job with a non-empty schedule and starts the cron
// runner. Jobs stop when ctx is cancelled.
func (d *Driver) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		fn   jobFunc
	}{
		{JobAgentOutages, d.schedules.AgentOutages, d.AgentOutages},
		{JobUnsnooze, d.schedules.Unsnooze, d.Unsnooze},
		{JobPrune, d.schedules.Prune, d.Prune},
		{JobTaskSync, d.schedules.TaskSync, d.TaskSync},
		{JobOrphans, d.schedules.Orphans, d.Orphans},
		{JobRecache, d.schedules.Recache, d.Recache},
	}

	for _, j := range jobs {
		if j.spec == "" {
			log.Infof("job %s disabled", j.name)
			continue
		}
		_, err := d.cron.AddFunc(j.spec, func() {
			if err := d.Run(ctx, j.name, j.fn); err != nil {
				log.WithField("job", j.name).Errorf("job failed: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
	}

	d.cron.Start()
	log.Info("control loop driver started")
	return nil
}

// Stop halts scheduling and waits for running jobs.
func (d *Driver) Stop() {
	<-d.cron.Stop().Done()
}

// Run executes fn under the named lock. A held lock skips the cycle. The
// lease is extended every third of its length while fn runs; if it is lost,
// fn's context is cancelled.
func (d *Driver) Run(ctx context.Context, name string, fn jobFunc) error {
	if ctx.Err() != nil {
		return nil
	}

	token, err := retry.DoWithData(func() (string, error) {
		return d.locks.AcquireLock(ctx, name, d.lease)
	},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, cache.ErrLockHeld) }),
	)
	if errors.Is(err, cache.ErrLockHeld) {
		log.WithField("job", name).Debug("lock held elsewhere, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.locks.ReleaseLock(releaseCtx, name, token); err != nil {
			log.WithField("job", name).Warnf("release lock: %v", err)
		}
	}()

	jobCtx, stopJob := context.WithCancel(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		d.keepLease(jobCtx, name, token, stopJob)
	}()
	defer func() {
		stopJob()
		<-renewed
	}()

	core, err := d.store.GetCoreSettings(jobCtx)
	if err != nil {
		return fmt.Errorf("load core settings: %w", err)
	}

	start := d.now()
	err = fn(jobCtx, core)
	log.WithField("job", name).Debugf("finished in %s", d.now().Sub(start))
	return err
}

func (d *Driver) keepLease(ctx context.Context, name, token string, lost context.CancelFunc) {
	every := d.renewEvery
	if every <= 0 {
		every = d.lease / 3
	}
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.locks.ExtendLock(ctx, name, token, d.lease)
			switch {
			case err == nil:
			case errors.Is(err, cache.ErrLockLost):
				log.WithField("job", name).Warn("lock lease lost, cancelling job")
				lost()
				return
			case ctx.Err() != nil:
				return
			default:
				log.WithField("job", name).Warnf("extend lock: %v", err)
			}
		}
	}
}

// AgentOutages raises availability alerts for every overdue agent.
func (d *Driver) AgentOutages(ctx context.Context, _ *models.CoreSettings) error {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	now := d.now()
	var overdue []models.Agent
	for _, a := range agents {
		if fleet.AgentStatus(&a, now) == models.AgentOverdue {
			overdue = append(overdue, a)
		}
	}
	if len(overdue) == 0 {
		return nil
	}

	failed := ForEach(ctx, JobAgentOutages, overdue, d.tasksCfg.MaxConcurrent, 0, func(ctx context.Context, a models.Agent) error {
		if err := d.alerts.HandleFailure(ctx, alerts.AgentSubject(&a)); err != nil {
			return fmt.Errorf("agent %s: %w", a.AgentID, err)
		}
		return nil
	})
	log.WithField("job", JobAgentOutages).Infof("%d overdue agents, %d failed", len(overdue), failed)
	return nil
}

// CheckAgent evaluates a single agent outside the periodic scan.
func (d *Driver) CheckAgent(ctx context.Context, agentID string) error {
	agent, err := d.store.GetAgentByAgentID(ctx, agentID)
	if errors.Is(err, storage.ErrAgentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}
	if fleet.AgentStatus(agent, d.now()) != models.AgentOverdue {
		return nil
	}
	return d.alerts.HandleFailure(ctx, alerts.AgentSubject(agent))
}

func (d *Driver) Unsnooze(ctx context.Context, _ *models.CoreSettings) error {
	n, err := d.alerts.UnsnoozeExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("job", JobUnsnooze).Infof("unsnoozed %d alerts", n)
	}
	return nil
}

// Prune deletes resolved alerts older than the configured retention. Zero
// retention keeps everything.
func (d *Driver) Prune(ctx context.Context, core *models.CoreSettings) error {
	if core.ResolvedAlertsPruneDays <= 0 {
		return nil
	}
	n, err := d.alerts.PruneResolved(ctx, core.ResolvedAlertsPruneDays)
	if err != nil {
		return err
	}
	log.WithField("job", JobPrune).Infof("pruned %d resolved alerts", n)
	return nil
}

// TaskSync pushes pending task changes to every online agent.
func (d *Driver) TaskSync(ctx context.Context, _ *models.CoreSettings) error {
	agents, err := d.onlineAgents(ctx)
	if err != nil {
		return err
	}

	var created, modified, deleted int
	results := make(chan tasks.Summary, len(agents))
	failed := ForEach(ctx, JobTaskSync, agents, d.tasksCfg.MaxConcurrent, d.tasksCfg.StartJitter, func(ctx context.Context, a models.Agent) error {
		sum, err := d.tasks.ReconcileAgent(ctx, &a)
		results <- sum
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.AgentID, err)
		}
		return nil
	})
	close(results)
	for s := range results {
		created += s.Created
		modified += s.Modified
		deleted += s.Deleted
	}

	log.WithField("job", JobTaskSync).Infof("%d agents: %d created, %d modified, %d deleted, %d failed",
		len(agents), created, modified, deleted, failed)
	return nil
}

// Orphans removes our scheduled tasks that no longer exist locally.
func (d *Driver) Orphans(ctx context.Context, _ *models.CoreSettings) error {
	agents, err := d.onlineAgents(ctx)
	if err != nil {
		return err
	}
	ForEach(ctx, JobOrphans, agents, d.tasksCfg.MaxConcurrent, d.tasksCfg.StartJitter, func(ctx context.Context, a models.Agent) error {
		if _, err := d.tasks.RemoveOrphans(ctx, &a); err != nil {
			return fmt.Errorf("agent %s: %w", a.AgentID, err)
		}
		return nil
	})
	return nil
}

func (d *Driver) Recache(ctx context.Context, _ *models.CoreSettings) error {
	n, err := d.templates.RefreshAll(ctx)
	if err != nil {
		return err
	}
	log.WithField("job", JobRecache).Infof("%d agent templates changed", n)
	return nil
}

func (d *Driver) onlineAgents(ctx context.Context) ([]models.Agent, error) {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return fleet.Online(agents, d.now()), nil
}
