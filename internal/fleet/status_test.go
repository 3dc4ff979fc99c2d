package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleetpilot-backend/internal/models"
)

func TestStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name     string
		lastSeen *time.Time
		offline  int
		overdue  int
		want     models.AgentStatus
	}{
		{name: "never_seen", lastSeen: nil, offline: 4, overdue: 30, want: models.AgentOffline},
		{name: "just_now", lastSeen: ago(0), offline: 4, overdue: 30, want: models.AgentOnline},
		{name: "at_offline_cutoff", lastSeen: ago(4 * time.Minute), offline: 4, overdue: 30, want: models.AgentOnline},
		{name: "past_offline_cutoff", lastSeen: ago(5 * time.Minute), offline: 4, overdue: 30, want: models.AgentOffline},
		{name: "at_overdue_cutoff", lastSeen: ago(30 * time.Minute), offline: 4, overdue: 30, want: models.AgentOffline},
		{name: "past_overdue_cutoff", lastSeen: ago(31 * time.Minute), offline: 4, overdue: 30, want: models.AgentOverdue},
		{name: "defaults_when_unset", lastSeen: ago(10 * time.Minute), offline: 0, overdue: 0, want: models.AgentOffline},
		{name: "equal_thresholds", lastSeen: ago(6 * time.Minute), offline: 5, overdue: 5, want: models.AgentOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.lastSeen, tt.offline, tt.overdue, now))
		})
	}
}

func TestStatusNeverSeenIsOffline(t *testing.T) {
	for _, thresholds := range [][2]int{{1, 1}, {4, 30}, {60, 1440}, {0, 0}} {
		assert.Equal(t, models.AgentOffline, Status(nil, thresholds[0], thresholds[1], time.Now()))
	}
}

func TestStatusMonotonic(t *testing.T) {
	rank := map[models.AgentStatus]int{
		models.AgentOnline:  0,
		models.AgentOffline: 1,
		models.AgentOverdue: 2,
	}

	lastSeen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := rank[models.AgentOnline]
	for elapsed := time.Duration(0); elapsed <= 2*time.Hour; elapsed += 30 * time.Second {
		got := rank[Status(&lastSeen, 4, 30, lastSeen.Add(elapsed))]
		assert.GreaterOrEqual(t, got, prev, "status regressed at %s", elapsed)
		prev = got
	}
	assert.Equal(t, rank[models.AgentOverdue], prev)
}

func TestOnline(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	stale := now.Add(-time.Hour)

	agents := []models.Agent{
		{ID: 1, LastSeen: &recent, OfflineTime: 4, OverdueTime: 30},
		{ID: 2, LastSeen: &stale, OfflineTime: 4, OverdueTime: 30},
		{ID: 3},
	}

	online := Online(agents, now)
	if assert.Len(t, online, 1) {
		assert.Equal(t, int64(1), online[0].ID)
	}
}
