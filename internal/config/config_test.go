package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15, cfg.Checks.HistoryWindow)
	assert.Equal(t, "FleetPilot_", cfg.Tasks.NamePrefix)
	assert.Equal(t, []string{"fixmesh", "SchedReboot", "sync", "agentupdate"}, cfg.Tasks.ReservedPrefixes)
	assert.Equal(t, 10*time.Second, cfg.Tasks.RPCTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Locks.Lease)
	assert.Equal(t, "@every 1m", cfg.Schedules.AgentOutages)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  host: db.internal
  name: fleet
checks:
  history_window: 5
alerts:
  jitter_min: 2s
  jitter_max: 4s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("FLEETPILOT_NATS_URL", "nats://bus:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5, cfg.Checks.HistoryWindow)
	assert.Equal(t, 2*time.Second, cfg.Alerts.JitterMin)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
	assert.Contains(t, cfg.Database.DSN(), "dbname=fleet")
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alerts:\n  jitter_min: 10s\n  jitter_max: 1s\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
