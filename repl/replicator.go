package repl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/sirupsen/logrus"
)

// Replicator owns a PostgreSQL logical replication connection and exposes
// the raw pgoutput message stream. It implements Source.
//
// A Replicator is not safe for concurrent use; Pull and Flush must be
// called from a single goroutine.
type Replicator struct {
	config Config
	log    *logrus.Logger
	conn   *pgconn.PgConn

	// flushed is the last position acknowledged via Flush. Standby status
	// updates report it back to the server; messages that were received but
	// never acknowledged do not advance it.
	flushed pglogrepl.LSN

	nextStandbyDeadline time.Time
}

// NewReplicator creates a new Replicator with the given configuration
func NewReplicator(cfg Config, log *logrus.Logger) (*Replicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Replicator{config: cfg, log: log}, nil
}

// Start connects and opens the replication stream. After a successful Start
// the stream is consumed with Pull.
func (r *Replicator) Start(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if r.config.CreatePublication {
		if err := r.setupPublication(ctx); err != nil {
			return fmt.Errorf("setup publication: %w", err)
		}
	}

	if err := r.createReplicationSlot(ctx); err != nil {
		return fmt.Errorf("create replication slot: %w", err)
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, r.conn)
	if err != nil {
		return fmt.Errorf("identify system: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"systemID": sysident.SystemID,
		"timeline": sysident.Timeline,
		"xLogPos":  sysident.XLogPos,
		"slot":     r.config.SlotName,
	}).Info("identified system")

	if err := r.startReplication(ctx); err != nil {
		return fmt.Errorf("start replication: %w", err)
	}

	r.nextStandbyDeadline = time.Now().Add(r.config.StandbyMessageTimeout)
	return nil
}

// Close stops the replicator and closes the connection
func (r *Replicator) Close() error {
	if r.conn != nil {
		return r.conn.Close(context.Background())
	}
	return nil
}

// connect establishes a connection to PostgreSQL
func (r *Replicator) connect(ctx context.Context) error {
	conn, err := pgconn.Connect(ctx, r.config.ConnectionString)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	r.conn = conn
	return nil
}

// setupPublication creates the publication for the configured tables
func (r *Replicator) setupPublication(ctx context.Context) error {
	tableList := strings.Join(r.config.Tables, ", ")
	createSQL := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s;", r.config.PublicationName, tableList)
	result := r.conn.Exec(ctx, createSQL)
	if _, err := result.ReadAll(); err != nil {
		return fmt.Errorf("create publication: %w", err)
	}

	return nil
}

// createReplicationSlot creates the replication slot. An existing slot is
// reused as-is.
func (r *Replicator) createReplicationSlot(ctx context.Context) error {
	_, err := pglogrepl.CreateReplicationSlot(
		ctx,
		r.conn,
		r.config.SlotName,
		"pgoutput",
		pglogrepl.CreateReplicationSlotOptions{
			Temporary: r.config.TemporarySlot,
		},
	)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return err
	}
	return nil
}

// startReplication begins the replication stream. Starting at position 0
// resumes from the slot's confirmed position.
func (r *Replicator) startReplication(ctx context.Context) error {
	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", r.config.PublicationName),
	}

	return pglogrepl.StartReplication(
		ctx,
		r.conn,
		r.config.SlotName,
		0,
		pglogrepl.StartReplicationOptions{
			PluginArgs: pluginArgs,
		},
	)
}

// Pull blocks until the next pgoutput message arrives. Keepalives are
// answered internally and never surface to the caller.
func (r *Replicator) Pull(ctx context.Context) (RawMessage, error) {
	for {
		select {
		case <-ctx.Done():
			return RawMessage{}, ctx.Err()
		default:
		}

		// Send standby status update if needed
		if time.Now().After(r.nextStandbyDeadline) {
			if err := r.sendStandbyStatus(ctx); err != nil {
				return RawMessage{}, fmt.Errorf("send standby status: %w", err)
			}
		}

		// Receive message with timeout
		msgCtx, cancel := context.WithDeadline(ctx, r.nextStandbyDeadline)
		rawMsg, err := r.conn.ReceiveMessage(msgCtx)
		cancel()

		if err != nil {
			if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
				continue
			}
			return RawMessage{}, fmt.Errorf("receive message: %w", err)
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return RawMessage{}, fmt.Errorf("postgres error: %s", errMsg.Message)
		}

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return RawMessage{}, fmt.Errorf("parse keepalive: %w", err)
			}
			if pkm.ReplyRequested {
				r.nextStandbyDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return RawMessage{}, fmt.Errorf("parse xlog data: %w", err)
			}
			return RawMessage{
				Payload:   xld.WALData,
				WALEnd:    xld.ServerWALEnd,
				DataStart: xld.WALStart,
			}, nil
		}
	}
}

// Flush acknowledges the stream up to lsn and reports it to the server
// right away.
func (r *Replicator) Flush(ctx context.Context, lsn pglogrepl.LSN) error {
	if lsn > r.flushed {
		r.flushed = lsn
	}
	return r.sendStandbyStatus(ctx)
}

// sendStandbyStatus reports the last flushed position to the server
func (r *Replicator) sendStandbyStatus(ctx context.Context) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, r.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: r.flushed,
	})
	if err != nil {
		return err
	}
	r.nextStandbyDeadline = time.Now().Add(r.config.StandbyMessageTimeout)
	return nil
}
