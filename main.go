package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"pgoutput-consumer/repl"
	"pgoutput-consumer/sink"
)

func main() {
	app := &cli.App{
		Name:    "pgoutput-consumer",
		Usage:   "Decode a PostgreSQL logical replication stream",
		Version: "0.1.0",
		Commands: []*cli.Command{
			advanceCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func advanceCommand() *cli.Command {
	return &cli.Command{
		Name:   "advance",
		Usage:  "Consume the replication slot until enough row changes arrived",
		Action: advanceAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Value: "localhost",
				Usage: "PostgreSQL host",
			},
			&cli.IntFlag{
				Name:  "port",
				Value: 5432,
				Usage: "PostgreSQL port",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Value:   "postgres",
				Usage:   "PostgreSQL user",
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				EnvVars: []string{"PGPASSWORD"},
				Usage:   "PostgreSQL password",
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "postgres",
				Usage:   "Database to replicate from",
			},
			&cli.StringFlag{
				Name:  "slot",
				Value: "test_slot",
				Usage: "Replication slot name",
			},
			&cli.StringFlag{
				Name:  "publication",
				Value: "test_pub",
				Usage: "Publication name",
			},
			&cli.IntFlag{
				Name:  "n",
				Value: 5,
				Usage: "Number of row changes to consume",
			},
			&cli.BoolFlag{
				Name:  "peek",
				Usage: "Do not acknowledge consumed messages",
			},
			&cli.StringSliceFlag{
				Name:  "table",
				Usage: "Table to include when creating the publication (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "create-publication",
				Usage: "Create the publication before starting",
			},
			&cli.BoolFlag{
				Name:  "temporary-slot",
				Usage: "Create the slot as temporary",
			},
			&cli.DurationFlag{
				Name:  "standby-timeout",
				Value: 10 * time.Second,
				Usage: "Interval between standby status updates",
			},
			&cli.StringFlag{
				Name:  "sink",
				Value: "log",
				Usage: "Where to send decoded messages: log, redis, nats",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output for the log sink",
			},
			&cli.StringFlag{
				Name:  "redis-url",
				Value: "redis://localhost:6379/0",
				Usage: "Redis URL for the redis sink",
			},
			&cli.StringFlag{
				Name:  "redis-key",
				Value: "pgoutput:events",
				Usage: "Redis list key for the redis sink",
			},
			&cli.StringFlag{
				Name:  "nats-url",
				Value: "nats://127.0.0.1:4222",
				Usage: "NATS URL for the nats sink",
			},
			&cli.StringFlag{
				Name:  "nats-subject",
				Value: "pgoutput.events",
				Usage: "NATS subject for the nats sink",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level: trace, debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
			},
		},
	}
}

func advanceAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handler, closeSink, err := buildSink(cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	replicator, err := repl.NewReplicator(repl.Config{
		ConnectionString:      cfg.Postgres.DSN(),
		SlotName:              cfg.Postgres.Slot,
		PublicationName:       cfg.Postgres.Publication,
		Tables:                cfg.Postgres.Tables,
		TemporarySlot:         cfg.Postgres.TemporarySlot,
		CreatePublication:     cfg.Postgres.CreatePublication,
		StandbyMessageTimeout: cfg.Postgres.StandbyTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("create replicator: %w", err)
	}

	if err := replicator.Start(ctx); err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	defer replicator.Close()

	log.WithFields(logrus.Fields{
		"slot":        cfg.Postgres.Slot,
		"publication": cfg.Postgres.Publication,
		"target":      cfg.Target,
		"ack":         !cfg.Peek,
	}).Info("consuming replication stream")

	consumer := repl.NewConsumer(cfg.Target, !cfg.Peek, handler, log)
	if err := consumer.Run(ctx, replicator); err != nil {
		return err
	}

	log.Info("target reached, stopping")
	return nil
}

// buildSink wires the configured sink and returns its handler together with
// a cleanup function.
func buildSink(cfg *Config, log *logrus.Logger) (repl.Handler, func(), error) {
	switch cfg.Sink.Kind {
	case "log":
		h := sink.NewLogHandler(os.Stdout, !cfg.Sink.NoColor, log)
		return h.Handle, func() {}, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.Sink.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		s := sink.NewRedisSink(client, cfg.Sink.RedisKey)
		return s.Handle, func() { client.Close() }, nil

	case "nats":
		s, err := sink.NewNATSSink(cfg.Sink.NATSURL, cfg.Sink.NATSSubject, log)
		if err != nil {
			return nil, nil, err
		}
		return s.Handle, s.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	log.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}

	return log
}
