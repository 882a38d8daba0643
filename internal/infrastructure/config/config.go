package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Mirror Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Bus     BusConfig     `yaml:"bus"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// AppConfig identifies the owning application.
// The name is written into every persisted entity row and feeds
// deterministic unique-id synthesis, so it must be stable across restarts.
type AppConfig struct {
	Name string `yaml:"name"`
}

// StorageConfig selects and configures the persistence backend.
// Exactly one engine is active per process.
type StorageConfig struct {
	// Engine selects the backend: "sqlite", "postgres", or "mysql".
	Engine string `yaml:"engine"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	MySQL    MySQLConfig    `yaml:"mysql"`
}

// SQLiteConfig contains settings for the embedded single-file engine.
type SQLiteConfig struct {
	// Path is the filesystem path to the database file.
	// The directory is created if it doesn't exist.
	Path string `yaml:"path"`

	// WALMode enables Write-Ahead Logging for better concurrent access.
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int `yaml:"busy_timeout"`
}

// PostgresConfig contains settings for the PostgreSQL engine.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds a pgx-compatible connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// MySQLConfig contains settings for the MySQL engine.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN builds a go-sql-driver/mysql connection string.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// BusConfig contains event-channel (MQTT) connection settings.
// When disabled, the runtime falls back to an in-process bus.
type BusConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Broker    BusBrokerConfig    `yaml:"broker"`
	Auth      BusAuthConfig      `yaml:"auth"`
	QoS       int                `yaml:"qos"`
	RootTopic string             `yaml:"root_topic"`
	Reconnect BusReconnectConfig `yaml:"reconnect"`
}

// BusBrokerConfig contains MQTT broker connection details.
type BusBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// BusAuthConfig contains MQTT authentication credentials.
type BusAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BusReconnectConfig contains MQTT reconnection settings (seconds).
type BusReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// HistoryConfig contains InfluxDB settings for the optional
// value-history recorder.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MIRROR_SECTION_KEY
// For example: MIRROR_STORAGE_ENGINE, MIRROR_BUS_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "mirror",
		},
		Storage: StorageConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path:        "./data/mirror.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
			MySQL: MySQLConfig{
				Host: "localhost",
				Port: 3306,
			},
		},
		Bus: BusConfig{
			Broker: BusBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mirror-core",
			},
			QoS:       1,
			RootTopic: "mirror",
			Reconnect: BusReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		History: HistoryConfig{
			URL:           "http://localhost:8086",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MIRROR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRROR_APP_NAME"); v != "" {
		cfg.App.Name = v
	}

	// Storage
	if v := os.Getenv("MIRROR_STORAGE_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("MIRROR_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("MIRROR_POSTGRES_PASSWORD"); v != "" {
		cfg.Storage.Postgres.Password = v
	}
	if v := os.Getenv("MIRROR_MYSQL_PASSWORD"); v != "" {
		cfg.Storage.MySQL.Password = v
	}

	// Bus
	if v := os.Getenv("MIRROR_BUS_HOST"); v != "" {
		cfg.Bus.Broker.Host = v
	}
	if v := os.Getenv("MIRROR_BUS_USERNAME"); v != "" {
		cfg.Bus.Auth.Username = v
	}
	if v := os.Getenv("MIRROR_BUS_PASSWORD"); v != "" {
		cfg.Bus.Auth.Password = v
	}

	// History
	if v := os.Getenv("MIRROR_HISTORY_TOKEN"); v != "" {
		cfg.History.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	switch c.Storage.Engine {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, "storage.sqlite.path is required")
		}
	case "postgres":
		if c.Storage.Postgres.Database == "" {
			errs = append(errs, "storage.postgres.database is required")
		}
	case "mysql":
		if c.Storage.MySQL.Database == "" {
			errs = append(errs, "storage.mysql.database is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.engine %q is not one of sqlite, postgres, mysql", c.Storage.Engine))
	}

	if c.Bus.Enabled {
		if c.Bus.Broker.Host == "" {
			errs = append(errs, "bus.broker.host is required when the bus is enabled")
		}
		if c.Bus.QoS < 0 || c.Bus.QoS > 2 {
			errs = append(errs, "bus.qos must be 0, 1, or 2")
		}
		if c.Bus.RootTopic == "" {
			errs = append(errs, "bus.root_topic is required when the bus is enabled")
		}
	}

	if c.History.Enabled {
		if c.History.URL == "" {
			errs = append(errs, "history.url is required when history is enabled")
		}
		if c.History.Org == "" || c.History.Bucket == "" {
			errs = append(errs, "history.org and history.bucket are required when history is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
