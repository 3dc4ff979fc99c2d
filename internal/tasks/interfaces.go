package tasks

import (
	"context"
	"time"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/policy"
)

// Store persists tasks and their per-agent results.
type Store interface {
	LoadLineage(ctx context.Context, agentID int64) (*policy.Lineage, error)
	GetAgentByAgentID(ctx context.Context, agentID string) (*models.Agent, error)

	GetTask(ctx context.Context, id int64) (*models.AutomatedTask, error)
	ListAgentTasks(ctx context.Context, agentID int64) ([]models.AutomatedTask, error)
	ListPolicyTasks(ctx context.Context, policyID int64) ([]models.AutomatedTask, error)
	CreateTask(ctx context.Context, task *models.AutomatedTask) error
	UpdateTaskDefinition(ctx context.Context, task *models.AutomatedTask) error
	SetTaskOverridden(ctx context.Context, taskID int64, overridden bool) error
	SetTaskRemoteName(ctx context.Context, taskID int64, name string) error
	DeleteTask(ctx context.Context, taskID int64) error

	ListTaskResults(ctx context.Context, agentID int64) ([]models.TaskResult, error)
	EnsureTaskResult(ctx context.Context, taskID, agentID int64) (*models.TaskResult, error)
	SetTaskSyncStatus(ctx context.Context, resultID int64, status models.SyncStatus) error
	DeleteTaskResult(ctx context.Context, resultID int64) error
	SaveTaskRun(ctx context.Context, result *models.TaskResult) error
}

// AlertHandler receives task failures and recoveries.
type AlertHandler interface {
	HandleFailure(ctx context.Context, s alerts.Subject) error
	HandleResolve(ctx context.Context, s alerts.Subject) error
}

type Config struct {
	NamePrefix       string
	ReservedPrefixes []string
	RPCTimeout       time.Duration
}
