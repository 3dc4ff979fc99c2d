// Package config loads server settings from an optional YAML file and
// FLEETPILOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Checks    ChecksConfig    `mapstructure:"checks"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Schedules SchedulesConfig `mapstructure:"schedules"`
	Locks     LocksConfig     `mapstructure:"locks"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// BulkRatePerMinute caps bulk alert requests per client IP.
	BulkRatePerMinute int `mapstructure:"bulk_rate_per_minute"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
	DB  int    `mapstructure:"db"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ChecksConfig struct {
	HistoryWindow int `mapstructure:"history_window"`
}

type AlertsConfig struct {
	NotifyWorkers int           `mapstructure:"notify_workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	JitterMin     time.Duration `mapstructure:"jitter_min"`
	JitterMax     time.Duration `mapstructure:"jitter_max"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
	// SlackWebhookURL mirrors alert emails into Slack when set.
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

type TasksConfig struct {
	NamePrefix       string        `mapstructure:"name_prefix"`
	ReservedPrefixes []string      `mapstructure:"reserved_prefixes"`
	RPCTimeout       time.Duration `mapstructure:"rpc_timeout"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	StartJitter      time.Duration `mapstructure:"start_jitter"`
}

// SchedulesConfig holds cron specs. An empty spec disables the job.
type SchedulesConfig struct {
	AgentOutages string `mapstructure:"agent_outages"`
	Unsnooze     string `mapstructure:"unsnooze"`
	Prune        string `mapstructure:"prune"`
	TaskSync     string `mapstructure:"task_sync"`
	Orphans      string `mapstructure:"orphans"`
	Recache      string `mapstructure:"recache"`
}

type LocksConfig struct {
	Lease time.Duration `mapstructure:"lease"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.bulk_rate_per_minute", 30)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fleet_user")
	v.SetDefault("database.password", "fleet_pass")
	v.SetDefault("database.name", "fleetpilot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("checks.history_window", 15)

	v.SetDefault("alerts.notify_workers", 4)
	v.SetDefault("alerts.queue_size", 1024)
	v.SetDefault("alerts.jitter_min", "1s")
	v.SetDefault("alerts.jitter_max", "10s")
	v.SetDefault("alerts.rate_per_second", 5.0)
	v.SetDefault("alerts.rate_burst", 10)
	v.SetDefault("alerts.slack_webhook_url", "")

	v.SetDefault("tasks.name_prefix", "FleetPilot_")
	v.SetDefault("tasks.reserved_prefixes", []string{"fixmesh", "SchedReboot", "sync", "agentupdate"})
	v.SetDefault("tasks.rpc_timeout", "10s")
	v.SetDefault("tasks.max_concurrent", 20)
	v.SetDefault("tasks.start_jitter", "3s")

	v.SetDefault("schedules.agent_outages", "@every 1m")
	v.SetDefault("schedules.unsnooze", "@every 10m")
	v.SetDefault("schedules.prune", "0 3 * * *")
	v.SetDefault("schedules.task_sync", "@every 15m")
	v.SetDefault("schedules.orphans", "0 */6 * * *")
	v.SetDefault("schedules.recache", "0 * * * *")

	v.SetDefault("locks.lease", "5m")
}

// Load reads path when it is set and applies environment overrides such as
// FLEETPILOT_DATABASE_HOST or FLEETPILOT_NATS_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLEETPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Host == "" || c.Database.Name == "" {
		return errors.New("database host and name are required")
	}
	if c.NATS.URL == "" {
		return errors.New("nats url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis url is required")
	}
	if c.Alerts.JitterMax < c.Alerts.JitterMin {
		return fmt.Errorf("alerts.jitter_max %s is below jitter_min %s", c.Alerts.JitterMax, c.Alerts.JitterMin)
	}
	if c.Locks.Lease <= 0 {
		return errors.New("locks.lease must be positive")
	}
	return nil
}
