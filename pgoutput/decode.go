package pgoutput

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// postgresEpoch is midnight 2000-01-01 UTC, the zero point of the
// microsecond timestamps carried on the wire.
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// pgTimestamp converts microseconds since the protocol epoch to an
// absolute UTC time.
func pgTimestamp(micros int64) time.Time {
	return postgresEpoch.Add(time.Duration(micros) * time.Microsecond)
}

// reader is a cursor over a message payload. All integer reads are big
// endian. Reading past the end of the payload fails with an error wrapping
// io.ErrUnexpectedEOF and naming the field being read.
type reader struct {
	buf []byte
	off int
}

// newReader validates the leading tag byte and returns a cursor positioned
// after it.
func newReader(payload []byte, want MessageType) (*reader, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("read tag: %w", io.ErrUnexpectedEOF)
	}
	if got := MessageType(payload[0]); got != want {
		return nil, &TagMismatchError{Expected: want, Actual: got}
	}
	return &reader{buf: payload, off: 1}, nil
}

func (r *reader) read(n int, field string) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, fmt.Errorf("read %s: %w", field, io.ErrUnexpectedEOF)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) readByte(field string) (byte, error) {
	b, err := r.read(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readInt16(field string) (int16, error) {
	b, err := r.read(2, field)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *reader) readInt32(field string) (int32, error) {
	b, err := r.read(4, field)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *reader) readInt64(field string) (int64, error) {
	b, err := r.read(8, field)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *reader) readTimestamp(field string) (time.Time, error) {
	micros, err := r.readInt64(field)
	if err != nil {
		return time.Time{}, err
	}
	return pgTimestamp(micros), nil
}

// decodeTupleData reads one row image: an int16 column count followed by
// that many columns, each introduced by a kind byte. Text column values are
// copied out of the payload.
func decodeTupleData(r *reader) (*TupleData, error) {
	count, err := r.readInt16("column count")
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative column count %d", count)
	}

	tuple := &TupleData{
		ColumnCount: count,
		Columns:     make([]ColumnData, 0, count),
	}
	for i := int16(0); i < count; i++ {
		kind, err := r.readByte("column kind")
		if err != nil {
			return nil, err
		}

		switch kind {
		case ColumnNull, ColumnUnchangedToast:
			tuple.Columns = append(tuple.Columns, ColumnData{Kind: kind})
		case ColumnText:
			length, err := r.readInt32("column length")
			if err != nil {
				return nil, err
			}
			if length < 0 {
				return nil, fmt.Errorf("negative length %d for column %d", length, i)
			}
			value, err := r.read(int(length), "column value")
			if err != nil {
				return nil, err
			}
			tuple.Columns = append(tuple.Columns, ColumnData{
				Kind:   kind,
				Length: length,
				Value:  string(value),
			})
		default:
			return nil, fmt.Errorf("unknown column kind %q for column %d", kind, i)
		}
	}
	return tuple, nil
}

// DecodeBegin decodes a Begin ('B') message.
func DecodeBegin(payload []byte) (*Begin, error) {
	r, err := newReader(payload, MessageTypeBegin)
	if err != nil {
		return nil, err
	}

	lsn, err := r.readInt64("lsn")
	if err != nil {
		return nil, err
	}
	commitTime, err := r.readTimestamp("commit timestamp")
	if err != nil {
		return nil, err
	}
	xid, err := r.readInt32("xid")
	if err != nil {
		return nil, err
	}

	return &Begin{LSN: lsn, CommitTime: commitTime, XID: xid}, nil
}

// DecodeCommit decodes a Commit ('C') message.
func DecodeCommit(payload []byte) (*Commit, error) {
	r, err := newReader(payload, MessageTypeCommit)
	if err != nil {
		return nil, err
	}

	flags, err := r.readByte("flags")
	if err != nil {
		return nil, err
	}
	lsn, err := r.readInt64("lsn")
	if err != nil {
		return nil, err
	}
	commitLSN, err := r.readInt64("commit lsn")
	if err != nil {
		return nil, err
	}
	commitTime, err := r.readTimestamp("commit timestamp")
	if err != nil {
		return nil, err
	}

	return &Commit{Flags: flags, LSN: lsn, CommitLSN: commitLSN, CommitTime: commitTime}, nil
}

// DecodeRelation decodes the leading fields of a Relation ('R') message.
// Anything after the namespace is ignored.
func DecodeRelation(payload []byte) (*Relation, error) {
	r, err := newReader(payload, MessageTypeRelation)
	if err != nil {
		return nil, err
	}

	relationID, err := r.readInt32("relation id")
	if err != nil {
		return nil, err
	}
	length, err := r.readByte("namespace length")
	if err != nil {
		return nil, err
	}
	namespace, err := r.read(int(length), "namespace")
	if err != nil {
		return nil, err
	}

	return &Relation{RelationID: relationID, Namespace: string(namespace)}, nil
}

// DecodeInsert decodes an Insert ('I') message.
func DecodeInsert(payload []byte) (*Insert, error) {
	r, err := newReader(payload, MessageTypeInsert)
	if err != nil {
		return nil, err
	}

	relationID, err := r.readInt32("relation id")
	if err != nil {
		return nil, err
	}
	marker, err := r.readByte("tuple marker")
	if err != nil {
		return nil, err
	}
	if marker != TupleTypeNew {
		return nil, &UnexpectedMarkerError{Expected: []byte{TupleTypeNew}, Actual: marker}
	}
	tuple, err := decodeTupleData(r)
	if err != nil {
		return nil, err
	}

	return &Insert{RelationID: relationID, Tuple: tuple}, nil
}

// DecodeUpdate decodes an Update ('U') message. An old row image is present
// only when the first marker is 'K' or 'O'; any other marker is taken to
// introduce the new row image without further validation.
func DecodeUpdate(payload []byte) (*Update, error) {
	r, err := newReader(payload, MessageTypeUpdate)
	if err != nil {
		return nil, err
	}

	relationID, err := r.readInt32("relation id")
	if err != nil {
		return nil, err
	}
	marker, err := r.readByte("tuple marker")
	if err != nil {
		return nil, err
	}

	msg := &Update{RelationID: relationID}
	if marker == TupleTypeKey || marker == TupleTypeOld {
		msg.OldTupleType = marker
		if msg.OldTuple, err = decodeTupleData(r); err != nil {
			return nil, err
		}
		if marker, err = r.readByte("new tuple marker"); err != nil {
			return nil, err
		}
		if marker != TupleTypeNew {
			return nil, &UnexpectedMarkerError{Expected: []byte{TupleTypeNew}, Actual: marker}
		}
	}
	if msg.NewTuple, err = decodeTupleData(r); err != nil {
		return nil, err
	}

	return msg, nil
}

// DecodeDelete decodes a Delete ('D') message.
func DecodeDelete(payload []byte) (*Delete, error) {
	r, err := newReader(payload, MessageTypeDelete)
	if err != nil {
		return nil, err
	}

	relationID, err := r.readInt32("relation id")
	if err != nil {
		return nil, err
	}
	marker, err := r.readByte("tuple marker")
	if err != nil {
		return nil, err
	}
	if marker != TupleTypeKey && marker != TupleTypeOld {
		return nil, &UnexpectedMarkerError{Expected: []byte{TupleTypeKey, TupleTypeOld}, Actual: marker}
	}
	tuple, err := decodeTupleData(r)
	if err != nil {
		return nil, err
	}

	return &Delete{RelationID: relationID, OldTupleType: marker, OldTuple: tuple}, nil
}

// decoders routes a leading tag byte to its message decoder.
var decoders = map[MessageType]func([]byte) (Message, error){
	MessageTypeBegin:    func(p []byte) (Message, error) { return DecodeBegin(p) },
	MessageTypeCommit:   func(p []byte) (Message, error) { return DecodeCommit(p) },
	MessageTypeRelation: func(p []byte) (Message, error) { return DecodeRelation(p) },
	MessageTypeInsert:   func(p []byte) (Message, error) { return DecodeInsert(p) },
	MessageTypeUpdate:   func(p []byte) (Message, error) { return DecodeUpdate(p) },
	MessageTypeDelete:   func(p []byte) (Message, error) { return DecodeDelete(p) },
}

// Decode decodes payload by its leading tag byte. Tags that do not map to a
// known message kind return an UnrecognizedTagError so callers can choose
// to skip them.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("read tag: %w", io.ErrUnexpectedEOF)
	}
	decode, ok := decoders[MessageType(payload[0])]
	if !ok {
		return nil, &UnrecognizedTagError{Tag: payload[0]}
	}
	return decode(payload)
}
