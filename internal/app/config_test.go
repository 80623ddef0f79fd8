package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)

	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/pushbeam.sqlite", cfg.Database.Path)

	require.Equal(t, 500, cfg.Dispatch.BatchSize)
	require.Equal(t, 10*time.Second, cfg.Dispatch.SendTimeout)
	require.EqualValues(t, 86400, cfg.Dispatch.DefaultTTLSeconds)

	require.Equal(t, 7, cfg.Reconciliation.LookbackDays)
	require.Equal(t, 50, cfg.Reconciliation.DefaultLimit)
	require.Equal(t, 200, cfg.Reconciliation.MaxLimit)

	require.Equal(t, 7, cfg.Lifecycle.DaysInactive)
	require.Equal(t, 7, cfg.Lifecycle.PurgeGraceDays)
	require.Equal(t, "@daily", cfg.Lifecycle.DeviceSchedule)

	require.Equal(t, "pushbeam", cfg.Auth.JWT.Issuer)
	require.Equal(t, time.Hour, cfg.Auth.JWT.TTL)

	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "pushbeam", cfg.Database.Postgres.Database)

	require.Equal(t, 250, cfg.Dispatch.BatchSize)
	require.Equal(t, 5*time.Second, cfg.Dispatch.SendTimeout)

	require.Equal(t, 14, cfg.Reconciliation.LookbackDays)
	require.Equal(t, "@midnight", cfg.Lifecycle.DeviceSchedule)

	require.Equal(t, "file-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "/etc/pushbeam/firebase.json", cfg.Gateway.CredentialsFile)
	require.Equal(t, "pushbeam-prod", cfg.Gateway.ProjectID)

	conn := cfg.DatabaseConnection()
	require.Equal(t, "postgres", conn.Driver)
	require.Equal(t, "db.example.com", conn.Host)
	require.Equal(t, "pushbeam", conn.Name)
}
