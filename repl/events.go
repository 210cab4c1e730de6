package repl

import (
	"context"

	"github.com/jackc/pglogrepl"
	"pgoutput-consumer/pgoutput"
)

// RawMessage is one replication message as received from the stream,
// positioned in the WAL.
type RawMessage struct {
	// Payload is the pgoutput message bytes. The first byte is the tag.
	Payload []byte

	// WALEnd is the server's current end of WAL when the message was sent.
	WALEnd pglogrepl.LSN

	// DataStart is the WAL position where this message starts.
	// Acknowledging a message reports this position back to the server.
	DataStart pglogrepl.LSN
}

// Source produces replication messages and accepts acknowledgments.
type Source interface {
	// Pull blocks until the next message arrives or ctx is cancelled.
	Pull(ctx context.Context) (RawMessage, error)

	// Flush acknowledges the stream up to lsn.
	Flush(ctx context.Context, lsn pglogrepl.LSN) error
}

// Handler receives every decoded message in stream order. A non-nil error
// aborts the run.
type Handler func(ctx context.Context, raw RawMessage, msg pgoutput.Message) error
