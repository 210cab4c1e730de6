package pgoutput

import (
	"fmt"
	"time"
)

// MessageType identifies a replication message kind by its wire tag byte.
type MessageType byte

const (
	MessageTypeBegin    MessageType = 'B'
	MessageTypeCommit   MessageType = 'C'
	MessageTypeRelation MessageType = 'R'
	MessageTypeInsert   MessageType = 'I'
	MessageTypeUpdate   MessageType = 'U'
	MessageTypeDelete   MessageType = 'D'
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeBegin:
		return "Begin"
	case MessageTypeCommit:
		return "Commit"
	case MessageTypeRelation:
		return "Relation"
	case MessageTypeInsert:
		return "Insert"
	case MessageTypeUpdate:
		return "Update"
	case MessageTypeDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Tuple markers preceding row images inside Insert, Update and Delete
// messages. Key and Old introduce an old row image, New introduces the
// new one.
const (
	TupleTypeKey byte = 'K'
	TupleTypeOld byte = 'O'
	TupleTypeNew byte = 'N'
)

// Column kinds as encoded in a row image.
const (
	ColumnNull           byte = 'n'
	ColumnUnchangedToast byte = 'u'
	ColumnText           byte = 't'
)

// ColumnData is a single column of a row image.
type ColumnData struct {
	// Kind is one of ColumnNull, ColumnUnchangedToast or ColumnText.
	Kind byte

	// Length is the byte length of Value. Zero unless Kind is ColumnText.
	Length int32

	// Value is the text representation of the column value. A zero-length
	// Value with Kind ColumnText is an empty text value, not NULL.
	Value string
}

// TupleData is one decoded row image. Columns holds exactly ColumnCount
// entries in wire order.
type TupleData struct {
	ColumnCount int16
	Columns     []ColumnData
}

// Message is a decoded replication message. Decoded messages do not alias
// the payload they were decoded from and are never modified after decoding.
type Message interface {
	Type() MessageType
	fmt.Stringer
}

// ChangeEvent is the row-level subset of Message, implemented only by
// Insert, Update and Delete.
type ChangeEvent interface {
	Message

	// Relation returns the ID of the relation the change applies to.
	Relation() int32

	// Before returns the old row image, or nil when the message carries none.
	Before() *TupleData

	// After returns the new row image, or nil for deletes.
	After() *TupleData

	changeEvent()
}

// Begin opens a transaction on the stream.
type Begin struct {
	// LSN is the final LSN of the transaction.
	LSN int64

	// CommitTime is when the transaction committed.
	CommitTime time.Time

	// XID is the transaction ID.
	XID int32
}

func (m *Begin) Type() MessageType { return MessageTypeBegin }

func (m *Begin) String() string {
	return fmt.Sprintf("BEGIN lsn=%s xid=%d commit_time=%s",
		formatLSN(m.LSN), m.XID, m.CommitTime.Format(time.RFC3339Nano))
}

// Commit closes the transaction opened by the preceding Begin.
type Commit struct {
	// Flags is carried over from the wire unchanged. Currently unused by
	// the server.
	Flags uint8

	// LSN is the LSN of the commit record.
	LSN int64

	// CommitLSN is the end LSN of the transaction.
	CommitLSN int64

	// CommitTime is when the transaction committed.
	CommitTime time.Time
}

func (m *Commit) Type() MessageType { return MessageTypeCommit }

func (m *Commit) String() string {
	return fmt.Sprintf("COMMIT lsn=%s commit_lsn=%s commit_time=%s",
		formatLSN(m.LSN), formatLSN(m.CommitLSN), m.CommitTime.Format(time.RFC3339Nano))
}

// Relation describes a relation referenced by subsequent change messages.
// Only the relation ID and namespace are decoded; the relation name,
// replica identity and column definitions that follow on the wire are
// left undecoded.
type Relation struct {
	RelationID int32
	Namespace  string
}

func (m *Relation) Type() MessageType { return MessageTypeRelation }

func (m *Relation) String() string {
	return fmt.Sprintf("RELATION id=%d namespace=%q", m.RelationID, m.Namespace)
}

// Insert is a new row in a relation.
type Insert struct {
	RelationID int32

	// Tuple is the inserted row image.
	Tuple *TupleData
}

func (m *Insert) Type() MessageType { return MessageTypeInsert }

func (m *Insert) Relation() int32 { return m.RelationID }

func (m *Insert) Before() *TupleData { return nil }

func (m *Insert) After() *TupleData { return m.Tuple }

func (m *Insert) changeEvent() {}

func (m *Insert) String() string {
	return fmt.Sprintf("INSERT relation=%d new=%d cols", m.RelationID, columnCount(m.Tuple))
}

// Update is a modified row in a relation. OldTuple is present only when the
// relation's replica identity exposes the old row, in which case
// OldTupleType records whether it is a key ('K') or full old row ('O')
// image.
type Update struct {
	RelationID   int32
	OldTupleType byte
	OldTuple     *TupleData
	NewTuple     *TupleData
}

func (m *Update) Type() MessageType { return MessageTypeUpdate }

func (m *Update) Relation() int32 { return m.RelationID }

func (m *Update) Before() *TupleData { return m.OldTuple }

func (m *Update) After() *TupleData { return m.NewTuple }

func (m *Update) changeEvent() {}

func (m *Update) String() string {
	if m.OldTuple != nil {
		return fmt.Sprintf("UPDATE relation=%d old(%c)=%d cols new=%d cols",
			m.RelationID, m.OldTupleType, m.OldTuple.ColumnCount, columnCount(m.NewTuple))
	}
	return fmt.Sprintf("UPDATE relation=%d new=%d cols", m.RelationID, columnCount(m.NewTuple))
}

// Delete is a removed row in a relation. OldTupleType records whether
// OldTuple is a key ('K') or full old row ('O') image.
type Delete struct {
	RelationID   int32
	OldTupleType byte
	OldTuple     *TupleData
}

func (m *Delete) Type() MessageType { return MessageTypeDelete }

func (m *Delete) Relation() int32 { return m.RelationID }

func (m *Delete) Before() *TupleData { return m.OldTuple }

func (m *Delete) After() *TupleData { return nil }

func (m *Delete) changeEvent() {}

func (m *Delete) String() string {
	return fmt.Sprintf("DELETE relation=%d old(%c)=%d cols",
		m.RelationID, m.OldTupleType, columnCount(m.OldTuple))
}

func columnCount(t *TupleData) int16 {
	if t == nil {
		return 0
	}
	return t.ColumnCount
}

// formatLSN renders a WAL position in the X/X form PostgreSQL uses.
func formatLSN(lsn int64) string {
	return fmt.Sprintf("%X/%X", uint64(lsn)>>32, uint32(uint64(lsn)))
}
