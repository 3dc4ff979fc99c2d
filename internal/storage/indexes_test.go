package storage

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Every ON CONFLICT target used by a query needs a matching unique index.
func TestRequiredIndexesCoverConflictTargets(t *testing.T) {
	targets := []struct {
		table   string
		columns string
		where   string
	}{
		{"alerts", "(target_key)", "WHERE resolved = false"},
		{"check_results", "(check_id, agent_id)", ""},
		{"task_results", "(task_id, agent_id)", ""},
		{"automated_tasks", "(agent_id, parent_task_id)", "WHERE parent_task_id IS NOT NULL"},
	}
	ws := regexp.MustCompile(`\s+`)
	for _, tt := range targets {
		t.Run(tt.table, func(t *testing.T) {
			want := "ON " + tt.table + " " + tt.columns
			found := false
			for _, stmt := range requiredIndexes {
				stmt = ws.ReplaceAllString(stmt, " ")
				if !strings.Contains(stmt, want) {
					continue
				}
				found = true
				assert.Contains(t, stmt, "CREATE UNIQUE INDEX IF NOT EXISTS")
				if tt.where != "" {
					assert.Contains(t, stmt, tt.where)
				}
			}
			assert.True(t, found, "no unique index on %s %s", tt.table, tt.columns)
		})
	}
}
