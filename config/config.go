// Package config loads the configuration of the strata processes.
//
// Values come from, in increasing priority:
//
//  1. defaults
//  2. the YAML file, after ${VAR} expansion against the environment
//  3. STRATA_* environment variables
//
// A .env file next to the YAML file is loaded into the environment first.
// Variables already set are not overwritten by it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/log"
	"github.com/syssam/strata/outbox"
	"github.com/syssam/strata/schema"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverPgx      = "pgx"
	DriverMongo    = "mongo"
)

var drivers = []string{DriverPostgres, DriverMySQL, DriverSQLite, DriverPgx, DriverMongo}

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the store holding entities and outbox messages.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Schema qualifies table names on SQL stores.
	Schema string `yaml:"schema,omitempty"`
	// Name is the database of a mongo store.
	Name string `yaml:"name,omitempty"`
}

// OutboxConfig configures the message table and the relay.
type OutboxConfig struct {
	Table        string        `yaml:"table"`
	CreateTable  bool          `yaml:"create_table"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBase    time.Duration `yaml:"retry_base"`
	RetryMax     time.Duration `yaml:"retry_max"`
	Lease        time.Duration `yaml:"lease"`
	OrphanGrace  time.Duration `yaml:"orphan_grace"`
}

// AMQPConfig is the broker messages are published to.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// RedisConfig enables publish deduplication when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used for every unset value.
func Default() *Config {
	rc := outbox.DefaultRelayConfig()
	return &Config{
		Database: DatabaseConfig{Driver: DriverPostgres},
		Outbox: OutboxConfig{
			Table:        outbox.DefaultTable,
			PollInterval: rc.PollInterval,
			BatchSize:    rc.BatchSize,
			Concurrency:  rc.Concurrency,
			MaxAttempts:  rc.MaxAttempts,
			RetryBase:    rc.RetryBase,
			RetryMax:     rc.RetryMax,
			Lease:        rc.Lease,
			OrphanGrace:  rc.OrphanGrace,
		},
		Redis: RedisConfig{Prefix: "strata:outbox:published:"},
		Log:   LogConfig{Level: log.LevelInfo.String()},
	}
}

// Load reads the configuration at path. An empty path yields the defaults
// with environment overrides applied.
func Load(path string) (*Config, error) {
	dir := "."
	if path != "" {
		dir = filepath.Dir(path)
	}
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for name, dst := range map[string]*string{
		"STRATA_DATABASE_DRIVER": &c.Database.Driver,
		"STRATA_DATABASE_DSN":    &c.Database.DSN,
		"STRATA_DATABASE_SCHEMA": &c.Database.Schema,
		"STRATA_DATABASE_NAME":   &c.Database.Name,
		"STRATA_OUTBOX_TABLE":    &c.Outbox.Table,
		"STRATA_AMQP_URL":        &c.AMQP.URL,
		"STRATA_AMQP_EXCHANGE":   &c.AMQP.Exchange,
		"STRATA_REDIS_ADDR":      &c.Redis.Addr,
		"STRATA_REDIS_PASSWORD":  &c.Redis.Password,
		"STRATA_LOG_LEVEL":       &c.Log.Level,
	} {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	for name, dst := range map[string]*int{
		"STRATA_OUTBOX_BATCH_SIZE":  &c.Outbox.BatchSize,
		"STRATA_OUTBOX_CONCURRENCY": &c.Outbox.Concurrency,
		"STRATA_REDIS_DB":           &c.Redis.DB,
	} {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = n
	}
	if v, ok := os.LookupEnv("STRATA_OUTBOX_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: STRATA_OUTBOX_POLL_INTERVAL: %w", err)
		}
		c.Outbox.PollInterval = d
	}
	return nil
}

// applyDefaults fills values left empty by the file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Outbox.Table == "" {
		c.Outbox.Table = d.Outbox.Table
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = d.Redis.Prefix
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	switch {
	case !slices.Contains(drivers, c.Database.Driver):
		return fmt.Errorf("config: database.driver %q is not one of %v", c.Database.Driver, drivers)
	case c.Database.DSN == "":
		return errors.New("config: database.dsn is required")
	case c.Database.Driver == DriverMongo && c.Database.Name == "":
		return errors.New("config: database.name is required for mongo")
	case c.Database.Schema != "" && !schema.IsIdentifier(c.Database.Schema):
		return fmt.Errorf("config: database.schema %q is not an identifier", c.Database.Schema)
	case !schema.IsIdentifier(c.Outbox.Table):
		return fmt.Errorf("config: outbox.table %q is not an identifier", c.Outbox.Table)
	case c.Outbox.BatchSize < 0 || c.Outbox.Concurrency < 0 || c.Outbox.MaxAttempts < 0:
		return errors.New("config: outbox batch_size, concurrency and max_attempts must not be negative")
	case c.Redis.DB < 0:
		return errors.New("config: redis.db must not be negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// Relay returns the relay settings. Zero values are normalized by the relay.
func (c *Config) Relay() outbox.RelayConfig {
	o := c.Outbox
	return outbox.RelayConfig{
		PollInterval: o.PollInterval,
		BatchSize:    o.BatchSize,
		Concurrency:  o.Concurrency,
		MaxAttempts:  o.MaxAttempts,
		RetryBase:    o.RetryBase,
		RetryMax:     o.RetryMax,
		Lease:        o.Lease,
		OrphanGrace:  o.OrphanGrace,
	}
}

// LogLevel returns the parsed log level, info when invalid.
func (c *Config) LogLevel() log.Level {
	lvl, _ := log.ParseLevel(c.Log.Level)
	return lvl
}
