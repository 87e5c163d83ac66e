// Package config loads the daemon configuration from an optional YAML file,
// a .env file and OVSRESTD_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ovsrestd/backend/internal/infrastructure/store"
	"github.com/ovsrestd/backend/pkg/constants"
	"github.com/ovsrestd/backend/pkg/utils"
)

// Config is the top-level configuration
type Config struct {
	Server      Server      `yaml:"server"`
	Schema      Schema      `yaml:"schema"`
	Store       Store       `yaml:"store"`
	Replica     Replica     `yaml:"replica"`
	Transaction Transaction `yaml:"transaction"`
	Log         Log         `yaml:"log"`
}

// Server holds the HTTP listener settings
type Server struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// Schema points at the extended schema document
type Schema struct {
	Path string `yaml:"path"`
}

// Store selects and configures the backing database
type Store struct {
	Driver   string        `yaml:"driver"`
	DSN      string        `yaml:"dsn"`
	Host     string        `yaml:"host"`
	Port     string        `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Database string        `yaml:"database"`
	Latency  time.Duration `yaml:"latency"`
}

// Replica holds session management settings
type Replica struct {
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
}

// Transaction bounds the pending-commit protocol
type Transaction struct {
	Timeout      time.Duration `yaml:"timeout"`
	PendingTTL   time.Duration `yaml:"pending_ttl"`
	ReapSchedule string        `yaml:"reap_schedule"`
}

// Log controls logger construction
type Log struct {
	Debug bool `yaml:"debug"`
}

// SQL returns the SQL store connection settings
func (s Store) SQL() store.SQLConfig {
	return store.SQLConfig{
		DSN:      s.DSN,
		Host:     s.Host,
		Port:     s.Port,
		User:     s.User,
		Password: s.Password,
		Database: s.Database,
	}
}

// Load reads path (optional), then .env files, then environment overrides
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// .env is optional; values already in the environment win
	for _, p := range []string{".env", "../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides fields from OVSRESTD_* variables. The TIDB_* variables
// fill in unset SQL connection fields.
func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "OVSRESTD_ADDR")
	setString(&c.Server.Prefix, "OVSRESTD_PREFIX")
	setString(&c.Schema.Path, "OVSRESTD_SCHEMA")
	setString(&c.Store.Driver, "OVSRESTD_STORE_DRIVER")
	setString(&c.Store.DSN, "OVSRESTD_STORE_DSN")
	setString(&c.Transaction.ReapSchedule, "OVSRESTD_REAP_SCHEDULE")

	for _, d := range []struct {
		field *time.Duration
		name  string
	}{
		{&c.Store.Latency, "OVSRESTD_STORE_LATENCY"},
		{&c.Replica.ReconnectInterval, "OVSRESTD_RECONNECT_INTERVAL"},
		{&c.Replica.ReadyTimeout, "OVSRESTD_READY_TIMEOUT"},
		{&c.Transaction.Timeout, "OVSRESTD_TXN_TIMEOUT"},
		{&c.Transaction.PendingTTL, "OVSRESTD_PENDING_TTL"},
	} {
		if v := os.Getenv(d.name); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
			*d.field = parsed
		}
	}
	if v := os.Getenv("OVSRESTD_LOG_DEBUG"); v != "" {
		c.Log.Debug = utils.ToBool(v)
	}

	fill(&c.Store.Host, "TIDB_HOST")
	fill(&c.Store.Port, "TIDB_PORT")
	fill(&c.Store.User, "TIDB_USER")
	fill(&c.Store.Password, "TIDB_PASSWORD")
	fill(&c.Store.Database, "TIDB_DATABASE")
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = constants.DefaultAddr
	}
	if c.Server.Prefix == "" {
		c.Server.Prefix = constants.DefaultURIPrefix
	}
	c.Server.Prefix = "/" + strings.Trim(c.Server.Prefix, "/")
	if c.Store.Driver == "" {
		c.Store.Driver = constants.DefaultStoreDriver
	}
	if c.Store.Database == "" {
		c.Store.Database = "ovsdb"
	}
	if c.Replica.ReconnectInterval == 0 {
		c.Replica.ReconnectInterval = constants.DefaultReconnectInterval
	}
	if c.Replica.ReadyTimeout == 0 {
		c.Replica.ReadyTimeout = constants.DefaultReadyTimeout
	}
	if c.Transaction.Timeout == 0 {
		c.Transaction.Timeout = constants.DefaultTxnTimeout
	}
	if c.Transaction.PendingTTL == 0 {
		c.Transaction.PendingTTL = constants.DefaultPendingTTL
	}
	if c.Transaction.ReapSchedule == "" {
		c.Transaction.ReapSchedule = constants.DefaultReapSchedule
	}
}

func (c *Config) validate() error {
	if c.Schema.Path == "" {
		return fmt.Errorf("schema.path is required")
	}
	if c.Server.Prefix == "/" {
		return fmt.Errorf("server.prefix must name a path below the root")
	}
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" && c.Store.Host == "" {
			return fmt.Errorf("store.dsn or store.host is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"replica.reconnect_interval", c.Replica.ReconnectInterval},
		{"replica.ready_timeout", c.Replica.ReadyTimeout},
		{"transaction.timeout", c.Transaction.Timeout},
		{"transaction.pending_ttl", c.Transaction.PendingTTL},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.Transaction.PendingTTL < c.Transaction.Timeout {
		return fmt.Errorf("transaction.pending_ttl (%s) must not be shorter than transaction.timeout (%s)",
			c.Transaction.PendingTTL, c.Transaction.Timeout)
	}
	return nil
}

func setString(field *string, name string) {
	if v := os.Getenv(name); v != "" {
		*field = v
	}
}

func fill(field *string, name string) {
	if *field == "" {
		*field = os.Getenv(name)
	}
}
