package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Cameras   []CameraConfig  `mapstructure:"cameras"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type StoreConfig struct {
	ID    string `mapstructure:"id"`
	OrgID string `mapstructure:"org_id"`
}

// CameraConfig names one supervised camera worker. The worker process
// touches liveness_file while it is healthy; the agent only reads it.
type CameraConfig struct {
	ID           string `mapstructure:"id"`
	LivenessFile string `mapstructure:"liveness_file"`
}

type IngestConfig struct {
	URL         string        `mapstructure:"url"`
	EdgeToken   string        `mapstructure:"edge_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type OutboxConfig struct {
	Path          string        `mapstructure:"path"`
	Capacity      int           `mapstructure:"capacity"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("ingest.url", "http://localhost:8098/events")
	v.SetDefault("ingest.timeout", "10s")
	v.SetDefault("ingest.max_attempts", 10)
	v.SetDefault("outbox.path", "/var/lib/storepulse/outbox.db")
	v.SetDefault("outbox.capacity", 10000)
	v.SetDefault("outbox.flush_interval", "10s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("heartbeat.interval", "60s")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9198)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/storepulse/edge")
	}

	v.SetEnvPrefix("EDGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Store.ID == "" {
		return nil, fmt.Errorf("store.id is required")
	}

	return &cfg, nil
}
