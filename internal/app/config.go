package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pushbeam/pushbeam/internal/database"
)

// Config represents the runtime configuration for the pushbeam server.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Dispatch       DispatchConfig       `mapstructure:"dispatch"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Lifecycle      LifecycleConfig      `mapstructure:"lifecycle"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// GatewayConfig configures the push gateway connection.
type GatewayConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
}

// DispatchConfig bounds a single dispatch fan-out.
type DispatchConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	DefaultTTLSeconds int64         `mapstructure:"default_ttl_seconds"`
}

// DefaultTTL returns the configured default record lifetime as a duration.
func (c DispatchConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// ReconciliationConfig bounds missed-notification queries.
type ReconciliationConfig struct {
	LookbackDays int `mapstructure:"lookback_days"`
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// LifecycleConfig tunes the scheduled device and record sweeps.
type LifecycleConfig struct {
	DaysInactive   int    `mapstructure:"days_inactive"`
	PurgeGraceDays int    `mapstructure:"purge_grace_days"`
	DeviceSchedule string `mapstructure:"device_schedule"`
	ExpirySchedule string `mapstructure:"expiry_schedule"`
}

// AuthConfig captures the JWT settings for API authentication.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("PUSHBEAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/pushbeam.sqlite")

	v.SetDefault("dispatch.batch_size", 500)
	v.SetDefault("dispatch.send_timeout", "10s")
	v.SetDefault("dispatch.default_ttl_seconds", 86400)

	v.SetDefault("reconciliation.lookback_days", 7)
	v.SetDefault("reconciliation.default_limit", 50)
	v.SetDefault("reconciliation.max_limit", 200)

	v.SetDefault("lifecycle.days_inactive", 7)
	v.SetDefault("lifecycle.purge_grace_days", 7)
	v.SetDefault("lifecycle.device_schedule", "@daily")
	v.SetDefault("lifecycle.expiry_schedule", "@daily")

	v.SetDefault("auth.jwt.issuer", "pushbeam")
	v.SetDefault("auth.jwt.access_token_ttl", "1h")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// DatabaseConnection converts the loaded settings into the database package's
// connection config for the selected driver.
func (c *Config) DatabaseConnection() database.Config {
	cfg := database.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "postgres", "postgresql":
		cfg.Host = c.Database.Postgres.Host
		cfg.Port = c.Database.Postgres.Port
		cfg.Name = c.Database.Postgres.Database
		cfg.User = c.Database.Postgres.Username
		cfg.Password = c.Database.Postgres.Password
	case "mysql", "mariadb":
		cfg.Host = c.Database.MySQL.Host
		cfg.Port = c.Database.MySQL.Port
		cfg.Name = c.Database.MySQL.Database
		cfg.User = c.Database.MySQL.Username
		cfg.Password = c.Database.MySQL.Password
	}

	return cfg
}
