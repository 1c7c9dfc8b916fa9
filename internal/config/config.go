package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DataModeMemory   = "memory"
	DataModePostgres = "postgres"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Live    LiveConfig    `mapstructure:"live"`
	Data    DataConfig    `mapstructure:"data"`
	Logging LoggingConfig `mapstructure:"logging"`
	Probe   ProbeConfig   `mapstructure:"probe"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// LiveConfig tunes the registry, batcher, monitor and session handler.
type LiveConfig struct {
	BatchInterval    time.Duration `mapstructure:"batch_interval"`
	LivenessTimeout  time.Duration `mapstructure:"liveness_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	FlushConcurrency int           `mapstructure:"flush_concurrency"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	MaxConnsPerUser  int           `mapstructure:"max_conns_per_user"`
	HandshakeRate    float64       `mapstructure:"handshake_rate"`
	HandshakeBurst   int           `mapstructure:"handshake_burst"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
}

type DataConfig struct {
	Mode         string        `mapstructure:"mode"` // "memory" or "postgres"
	Dir          string        `mapstructure:"dir"`
	DSN          string        `mapstructure:"dsn"`
	MaxConns     int32         `mapstructure:"max_conns"`
	Timezone     string        `mapstructure:"timezone"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheMaxCost int64         `mapstructure:"cache_max_cost"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ProbeConfig configures the operator CLI's HTTP client.
type ProbeConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("live.batch_interval", "2s")
	v.SetDefault("live.liveness_timeout", "60s")
	v.SetDefault("live.sweep_interval", "30s")
	v.SetDefault("live.flush_concurrency", 16)
	v.SetDefault("live.send_buffer", 256)
	v.SetDefault("live.max_conns_per_user", 20)
	v.SetDefault("live.handshake_rate", 50)
	v.SetDefault("live.handshake_burst", 100)
	v.SetDefault("live.read_limit", 64*1024)
	v.SetDefault("live.write_wait", "10s")

	v.SetDefault("data.mode", DataModeMemory)
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.dsn", "")
	v.SetDefault("data.max_conns", 10)
	v.SetDefault("data.timezone", "UTC")
	v.SetDefault("data.cache_ttl", "5s")
	v.SetDefault("data.cache_max_cost", 100000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("probe.base_url", "http://localhost:8080")
	v.SetDefault("probe.timeout", "30s")
	v.SetDefault("probe.rate_per_second", 10)
	v.SetDefault("probe.retry_count", 3)
	v.SetDefault("probe.retry_delay", "1s")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support: SCHEDULE_LIVE_LIVE_BATCH_INTERVAL etc.
	v.SetEnvPrefix("SCHEDULE_LIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Conventional names for the database
	_ = v.BindEnv("data.dsn", "SCHEDULE_LIVE_DATA_DSN", "DATABASE_URL")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Location returns the calendar used to compute "today" for snapshots.
func (c *DataConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
