package storage

import (
	"context"
	"fmt"
)

// requiredIndexes back the ON CONFLICT targets and uniqueness checks used
// by this package. Without them inserts either fail or duplicate rows.
var requiredIndexes = []string{
	// InsertAlertIfAbsent: at most one unresolved alert per target.
	`CREATE UNIQUE INDEX IF NOT EXISTS alerts_unresolved_target
		ON alerts (target_key) WHERE resolved = false`,
	// GetOrCreateCheckResult
	`CREATE UNIQUE INDEX IF NOT EXISTS check_results_check_agent
		ON check_results (check_id, agent_id)`,
	// EnsureTaskResult
	`CREATE UNIQUE INDEX IF NOT EXISTS task_results_task_agent
		ON task_results (task_id, agent_id)`,
	// CreateTask: one policy copy per parent and agent.
	`CREATE UNIQUE INDEX IF NOT EXISTS automated_tasks_agent_parent
		ON automated_tasks (agent_id, parent_task_id) WHERE parent_task_id IS NOT NULL`,
}

// EnsureIndexes creates the unique indexes the queries depend on. It is
// safe to run on every start.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range requiredIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}
