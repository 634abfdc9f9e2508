package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ExtremaModeCached = "cached"
	ExtremaModeScan   = "scan"
)

// Config is the service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	HTTPAddr string `yaml:"http_addr"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the capabilities snapshot cache settings. An empty
// address disables the snapshot writer.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// EngineConfig tunes query compilation and execution.
type EngineConfig struct {
	PageSize             int    `yaml:"page_size"`
	MaxInList            int    `yaml:"max_in_list"`
	SeriesCreateAttempts int    `yaml:"series_create_attempts"`
	ExtremaMode          string `yaml:"extrema_mode"`
	SRID                 int    `yaml:"srid"`
}

// SnapshotConfig schedules the capabilities snapshot writer.
type SnapshotConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "sos-cloud", HTTPAddr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{KeyPrefix: "sos:capabilities:", TTL: 10 * time.Minute},
		Engine: EngineConfig{
			PageSize:             500,
			MaxInList:            500,
			SeriesCreateAttempts: 3,
			ExtremaMode:          ExtremaModeCached,
			SRID:                 4326,
		},
		Snapshot: SnapshotConfig{Interval: time.Minute},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// SOS_CONFIG and environment overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("SOS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.DSN = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"), c.Database.DSN)
	c.Service.HTTPAddr = getenvDefault("HTTP_ADDR", c.Service.HTTPAddr)
	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("LOG_FORMAT", c.Log.Format)
	c.Redis.Addr = getenvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenvDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvIntDefault("REDIS_DB", c.Redis.DB)
	c.Engine.PageSize = getenvIntDefault("SOS_PAGE_SIZE", c.Engine.PageSize)
	c.Engine.MaxInList = getenvIntDefault("SOS_MAX_IN_LIST", c.Engine.MaxInList)
	c.Engine.ExtremaMode = strings.ToLower(getenvDefault("SOS_EXTREMA_MODE", c.Engine.ExtremaMode))
	c.Snapshot.Interval = getenvDuration("SOS_SNAPSHOT_INTERVAL", c.Snapshot.Interval)
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.Engine.PageSize <= 0 {
		return errors.New("config: page size must be positive")
	}
	if c.Engine.MaxInList <= 0 {
		return errors.New("config: max in-list must be positive")
	}
	if c.Engine.SeriesCreateAttempts <= 0 {
		return errors.New("config: series create attempts must be positive")
	}
	switch c.Engine.ExtremaMode {
	case ExtremaModeCached, ExtremaModeScan:
	default:
		return fmt.Errorf("config: unknown extrema mode %q", c.Engine.ExtremaMode)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
