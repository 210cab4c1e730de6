package sink

import (
	"strings"
	"time"

	"pgoutput-consumer/pgoutput"
	"pgoutput-consumer/repl"
)

// Column is the serialized form of one row column. Value is set only for
// text columns, so a NULL column and a zero-length text column stay
// distinguishable after encoding.
type Column struct {
	Kind  string  `json:"kind" msgpack:"kind"`
	Value *string `json:"value,omitempty" msgpack:"value,omitempty"`
}

// Envelope is the flattened, serializable form of a decoded message and its
// stream positions, shared by the broker sinks.
type Envelope struct {
	Type      string `json:"type" msgpack:"type"`
	WALEnd    uint64 `json:"wal_end" msgpack:"wal_end"`
	DataStart uint64 `json:"data_start" msgpack:"data_start"`

	LSN        int64      `json:"lsn,omitempty" msgpack:"lsn,omitempty"`
	CommitLSN  int64      `json:"commit_lsn,omitempty" msgpack:"commit_lsn,omitempty"`
	CommitTime *time.Time `json:"commit_time,omitempty" msgpack:"commit_time,omitempty"`
	XID        int32      `json:"xid,omitempty" msgpack:"xid,omitempty"`
	Flags      uint8      `json:"flags,omitempty" msgpack:"flags,omitempty"`

	RelationID int32    `json:"relation_id,omitempty" msgpack:"relation_id,omitempty"`
	Namespace  string   `json:"namespace,omitempty" msgpack:"namespace,omitempty"`
	Before     []Column `json:"before,omitempty" msgpack:"before,omitempty"`
	After      []Column `json:"after,omitempty" msgpack:"after,omitempty"`
}

// NewEnvelope flattens a decoded message into its serializable form.
func NewEnvelope(raw repl.RawMessage, msg pgoutput.Message) Envelope {
	env := Envelope{
		Type:      strings.ToLower(msg.Type().String()),
		WALEnd:    uint64(raw.WALEnd),
		DataStart: uint64(raw.DataStart),
	}

	switch m := msg.(type) {
	case *pgoutput.Begin:
		commitTime := m.CommitTime
		env.LSN = m.LSN
		env.CommitTime = &commitTime
		env.XID = m.XID
	case *pgoutput.Commit:
		commitTime := m.CommitTime
		env.Flags = m.Flags
		env.LSN = m.LSN
		env.CommitLSN = m.CommitLSN
		env.CommitTime = &commitTime
	case *pgoutput.Relation:
		env.RelationID = m.RelationID
		env.Namespace = m.Namespace
	case pgoutput.ChangeEvent:
		env.RelationID = m.Relation()
		env.Before = columns(m.Before())
		env.After = columns(m.After())
	}

	return env
}

// columns converts a row image to its serialized form. A nil image stays
// nil.
func columns(tuple *pgoutput.TupleData) []Column {
	if tuple == nil {
		return nil
	}
	out := make([]Column, 0, len(tuple.Columns))
	for _, col := range tuple.Columns {
		c := Column{Kind: kindName(col.Kind)}
		if col.Kind == pgoutput.ColumnText {
			value := col.Value
			c.Value = &value
		}
		out = append(out, c)
	}
	return out
}

func kindName(kind byte) string {
	switch kind {
	case pgoutput.ColumnNull:
		return "null"
	case pgoutput.ColumnUnchangedToast:
		return "unchanged_toast"
	case pgoutput.ColumnText:
		return "text"
	default:
		return "unknown"
	}
}
