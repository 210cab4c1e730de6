package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Sink     SinkConfig     `yaml:"sink"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Target is the number of row changes to consume. The run stops after
	// the change that takes the count below zero.
	Target int  `yaml:"n"`
	Peek   bool `yaml:"peek"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	Slot              string        `yaml:"slot"`
	Publication       string        `yaml:"publication"`
	Tables            []string      `yaml:"tables"`
	CreatePublication bool          `yaml:"create_publication"`
	TemporarySlot     bool          `yaml:"temporary_slot"`
	StandbyTimeout    time.Duration `yaml:"standby_timeout"`
}

type SinkConfig struct {
	Kind        string `yaml:"kind"` // log, redis, nats
	NoColor     bool   `yaml:"no_color"`
	RedisURL    string `yaml:"redis_url"`
	RedisKey    string `yaml:"redis_key"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DSN builds the keyword/value connection string. replication=database puts
// the session in logical replication mode.
func (p PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s replication=database",
		p.Host, p.Port, p.User, p.Database)
	if p.Password != "" {
		dsn += fmt.Sprintf(" password=%s", p.Password)
	}
	return dsn
}

func defaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Database:       "postgres",
			Slot:           "test_slot",
			Publication:    "test_pub",
			StandbyTimeout: 10 * time.Second,
		},
		Sink: SinkConfig{
			Kind:        "log",
			RedisURL:    "redis://localhost:6379/0",
			RedisKey:    "pgoutput:events",
			NATSURL:     nats.DefaultURL,
			NATSSubject: "pgoutput.events",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Target: 5,
	}
}

// loadFile overlays values from a YAML file onto cfg. Keys missing from the
// file keep their current values.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

// loadConfig resolves the effective configuration: defaults, then the config
// file if one was given, then explicitly set command line flags.
func loadConfig(c *cli.Context) (*Config, error) {
	cfg := defaultConfig()

	if path := c.String("config"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyFlags(cfg, c)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFlags(cfg *Config, c *cli.Context) {
	if c.IsSet("host") {
		cfg.Postgres.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Postgres.Port = c.Int("port")
	}
	if c.IsSet("user") {
		cfg.Postgres.User = c.String("user")
	}
	if c.IsSet("password") {
		cfg.Postgres.Password = c.String("password")
	}
	if c.IsSet("database") {
		cfg.Postgres.Database = c.String("database")
	}
	if c.IsSet("slot") {
		cfg.Postgres.Slot = c.String("slot")
	}
	if c.IsSet("publication") {
		cfg.Postgres.Publication = c.String("publication")
	}
	if c.IsSet("table") {
		cfg.Postgres.Tables = c.StringSlice("table")
	}
	if c.IsSet("create-publication") {
		cfg.Postgres.CreatePublication = c.Bool("create-publication")
	}
	if c.IsSet("temporary-slot") {
		cfg.Postgres.TemporarySlot = c.Bool("temporary-slot")
	}
	if c.IsSet("standby-timeout") {
		cfg.Postgres.StandbyTimeout = c.Duration("standby-timeout")
	}
	if c.IsSet("n") {
		cfg.Target = c.Int("n")
	}
	if c.IsSet("peek") {
		cfg.Peek = c.Bool("peek")
	}
	if c.IsSet("sink") {
		cfg.Sink.Kind = c.String("sink")
	}
	if c.IsSet("no-color") {
		cfg.Sink.NoColor = c.Bool("no-color")
	}
	if c.IsSet("redis-url") {
		cfg.Sink.RedisURL = c.String("redis-url")
	}
	if c.IsSet("redis-key") {
		cfg.Sink.RedisKey = c.String("redis-key")
	}
	if c.IsSet("nats-url") {
		cfg.Sink.NATSURL = c.String("nats-url")
	}
	if c.IsSet("nats-subject") {
		cfg.Sink.NATSSubject = c.String("nats-subject")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
}

func (c *Config) validate() error {
	switch c.Sink.Kind {
	case "log", "redis", "nats":
	default:
		return fmt.Errorf("unknown sink kind %q: must be 'log', 'redis' or 'nats'", c.Sink.Kind)
	}

	if c.Postgres.CreatePublication && len(c.Postgres.Tables) == 0 {
		return fmt.Errorf("creating a publication requires at least one --table")
	}

	return nil
}
