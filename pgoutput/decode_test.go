package pgoutput

import (
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

// Payloads captured from a live pgoutput stream: one transaction updating a
// 28-column row.
var (
	beginFixture  = []byte("B\x00\x00\x00\x00\x08\x07\x9c\xf8\x00\x02\x91d\xe0\xfc\xc6\xfe\x00\x00\x08-")
	updateFixture = []byte("U\x00\x00M\x00N\x00\x1ct\x00\x00\x00\x0292t\x00\x00\x00\x011nnt\x00\x00\x00\x05open1t\x00\x00\x00\x06normalt\x00\x00\x00\x08facebookt\x00\x00\x00\x05emailt\x00\x00\x00\x01ft\x00\x00\x00\x01ft\x00\x00\x00\x015t\x00\x00\x00\x012nt\x00\x00\x00\x17Update credit card infonnt\x00\x00\x00\x02ent\x00\x00\x00\x1a2022-10-31 12:03:06.803033nnnt\x00\x00\x00\x1a2022-10-31 12:03:06.803033t\x00\x00\x00\x1a2022-10-31 12:03:06.803033t\x00\x00\x00\x1a2022-10-31 12:03:06.803033nnt\x00\x00\x01\x86'2':21 'a':19 'account':36 'acme':11B 'ago':23 'but':24 'can':40 'card':3A,7A,31 'credit':2A,6A,30 'curie':10B 'days':22 'expired':38 'has':37 'hi':13 'how':39 'i':14,25,41 'info':4A,8A 'it':44 'marie':9B 'my':35 'on':34 'please':42 'realized':27 'receive':18 'refund':20 'registered':33 'support':12B,16 'thanks':45 'that':28 'thatis':32 'the':29 'to':17 'update':1A,5A,43 've':26 'was':15n")
	commitFixture = []byte("C\x00\x00\x00\x00\x00\x08\x07\x9c\xf8\x00\x00\x00\x00\x08\x07\x9d(\x00\x02\x91d\xe0\xfc\xc6\xfe")
)

// fixtureCommitTime is the commit timestamp shared by the Begin and Commit
// fixtures.
var fixtureCommitTime = time.Date(2022, 11, 26, 21, 13, 30, 840830000, time.UTC)

func text(v string) ColumnData {
	return ColumnData{Kind: ColumnText, Length: int32(len(v)), Value: v}
}

func null() ColumnData { return ColumnData{Kind: ColumnNull} }

func toast() ColumnData { return ColumnData{Kind: ColumnUnchangedToast} }

// buildTuple encodes a row image with the given columns.
func buildTuple(cols ...ColumnData) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(len(cols)))
	for _, col := range cols {
		b = append(b, col.Kind)
		if col.Kind == ColumnText {
			b = binary.BigEndian.AppendUint32(b, uint32(len(col.Value)))
			b = append(b, col.Value...)
		}
	}
	return b
}

func buildInsert(relationID int32, cols ...ColumnData) []byte {
	b := []byte{byte(MessageTypeInsert)}
	b = binary.BigEndian.AppendUint32(b, uint32(relationID))
	b = append(b, TupleTypeNew)
	return append(b, buildTuple(cols...)...)
}

func buildUpdate(relationID int32, oldMarker byte, before, after []ColumnData) []byte {
	b := []byte{byte(MessageTypeUpdate)}
	b = binary.BigEndian.AppendUint32(b, uint32(relationID))
	b = append(b, oldMarker)
	b = append(b, buildTuple(before...)...)
	b = append(b, TupleTypeNew)
	return append(b, buildTuple(after...)...)
}

func buildDelete(relationID int32, marker byte, cols ...ColumnData) []byte {
	b := []byte{byte(MessageTypeDelete)}
	b = binary.BigEndian.AppendUint32(b, uint32(relationID))
	b = append(b, marker)
	return append(b, buildTuple(cols...)...)
}

func TestDecodeBeginFixture(t *testing.T) {
	msg, err := DecodeBegin(beginFixture)
	if err != nil {
		t.Fatalf("DecodeBegin failed: %v", err)
	}

	if msg.LSN != 134716664 {
		t.Errorf("LSN = %d, want 134716664", msg.LSN)
	}
	if msg.XID != 2093 {
		t.Errorf("XID = %d, want 2093", msg.XID)
	}
	if !msg.CommitTime.Equal(fixtureCommitTime) {
		t.Errorf("CommitTime = %s, want %s", msg.CommitTime, fixtureCommitTime)
	}
}

func TestDecodeCommitFixture(t *testing.T) {
	msg, err := DecodeCommit(commitFixture)
	if err != nil {
		t.Fatalf("DecodeCommit failed: %v", err)
	}

	if msg.Flags != 0 {
		t.Errorf("Flags = %d, want 0", msg.Flags)
	}
	if msg.LSN != 134716664 {
		t.Errorf("LSN = %d, want 134716664", msg.LSN)
	}
	if msg.CommitLSN != 134716712 {
		t.Errorf("CommitLSN = %d, want 134716712", msg.CommitLSN)
	}
	if !msg.CommitTime.Equal(fixtureCommitTime) {
		t.Errorf("CommitTime = %s, want %s", msg.CommitTime, fixtureCommitTime)
	}
}

func TestDecodeUpdateFixture(t *testing.T) {
	msg, err := DecodeUpdate(updateFixture)
	if err != nil {
		t.Fatalf("DecodeUpdate failed: %v", err)
	}

	if msg.RelationID != 19712 {
		t.Errorf("RelationID = %d, want 19712", msg.RelationID)
	}
	if msg.OldTuple != nil {
		t.Errorf("OldTuple = %v, want nil", msg.OldTuple)
	}
	if msg.OldTupleType != 0 {
		t.Errorf("OldTupleType = %q, want zero", msg.OldTupleType)
	}

	tuple := msg.NewTuple
	if tuple == nil {
		t.Fatal("NewTuple is nil")
	}
	if tuple.ColumnCount != 28 {
		t.Fatalf("ColumnCount = %d, want 28", tuple.ColumnCount)
	}
	if len(tuple.Columns) != int(tuple.ColumnCount) {
		t.Fatalf("len(Columns) = %d, want %d", len(tuple.Columns), tuple.ColumnCount)
	}

	// Spot check decoded values against the captured row.
	if got := tuple.Columns[0]; got.Kind != ColumnText || got.Value != "92" {
		t.Errorf("column 0 = %+v, want text %q", got, "92")
	}
	if got := tuple.Columns[13]; got.Value != "Update credit card info" {
		t.Errorf("column 13 = %q, want %q", got.Value, "Update credit card info")
	}
	if got := tuple.Columns[17]; got.Value != "2022-10-31 12:03:06.803033" {
		t.Errorf("column 17 = %q, want timestamp text", got.Value)
	}
	if got := tuple.Columns[26]; got.Length != 390 || !strings.HasPrefix(got.Value, "'2':21 'a':19 'account':36") {
		t.Errorf("column 26 = length %d %.30q, want the 390 byte tsvector", got.Length, got.Value)
	}

	// NULL columns sit exactly where the captured row had them.
	nullAt := map[int]bool{2: true, 3: true, 12: true, 14: true, 15: true, 18: true, 19: true, 20: true, 24: true, 25: true, 27: true}
	for i, col := range tuple.Columns {
		if nullAt[i] != (col.Kind == ColumnNull) {
			t.Errorf("column %d kind = %q, null expected: %v", i, col.Kind, nullAt[i])
		}
		if col.Kind == ColumnText && int(col.Length) != len(col.Value) {
			t.Errorf("column %d length %d does not match value length %d", i, col.Length, len(col.Value))
		}
		if col.Kind != ColumnText && (col.Length != 0 || col.Value != "") {
			t.Errorf("column %d carries data without text kind: %+v", i, col)
		}
	}
}

func TestDecodeUpdateReplay(t *testing.T) {
	first, err := DecodeUpdate(updateFixture)
	if err != nil {
		t.Fatalf("first decode failed: %v", err)
	}
	second, err := DecodeUpdate(updateFixture)
	if err != nil {
		t.Fatalf("second decode failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("decoding the same payload twice produced different messages")
	}
}

func TestDecodeUpdateWithOldTuple(t *testing.T) {
	before := []ColumnData{text("7"), null()}
	after := []ColumnData{text("7"), text("renamed")}

	for _, marker := range []byte{TupleTypeKey, TupleTypeOld} {
		payload := buildUpdate(19712, marker, before, after)

		msg, err := DecodeUpdate(payload)
		if err != nil {
			t.Fatalf("marker %q: DecodeUpdate failed: %v", marker, err)
		}
		if msg.OldTupleType != marker {
			t.Errorf("OldTupleType = %q, want %q", msg.OldTupleType, marker)
		}
		if msg.Before() == nil || !reflect.DeepEqual(msg.Before().Columns, before) {
			t.Errorf("Before() = %+v, want %+v", msg.Before(), before)
		}
		if msg.After() == nil || !reflect.DeepEqual(msg.After().Columns, after) {
			t.Errorf("After() = %+v, want %+v", msg.After(), after)
		}
	}
}

func TestDecodeUpdateBadNewMarker(t *testing.T) {
	payload := []byte{byte(MessageTypeUpdate)}
	payload = binary.BigEndian.AppendUint32(payload, 19712)
	payload = append(payload, TupleTypeOld)
	payload = append(payload, buildTuple(text("7"))...)
	payload = append(payload, 'X')
	payload = append(payload, buildTuple(text("8"))...)

	_, err := DecodeUpdate(payload)
	var marker *UnexpectedMarkerError
	if !errors.As(err, &marker) {
		t.Fatalf("got %v, want UnexpectedMarkerError", err)
	}
	if marker.Actual != 'X' {
		t.Errorf("Actual = %q, want 'X'", marker.Actual)
	}
}

func TestDecodeInsert(t *testing.T) {
	payload := buildInsert(42, null(), text("hello"), toast(), text(""))

	msg, err := DecodeInsert(payload)
	if err != nil {
		t.Fatalf("DecodeInsert failed: %v", err)
	}
	if msg.RelationID != 42 {
		t.Errorf("RelationID = %d, want 42", msg.RelationID)
	}

	want := []ColumnData{null(), text("hello"), toast(), text("")}
	if !reflect.DeepEqual(msg.Tuple.Columns, want) {
		t.Errorf("Columns = %+v, want %+v", msg.Tuple.Columns, want)
	}

	// An empty text value stays a text column, not a NULL.
	if got := msg.Tuple.Columns[3]; got.Kind != ColumnText || got.Value != "" {
		t.Errorf("column 3 = %+v, want empty text", got)
	}

	if msg.Before() != nil {
		t.Errorf("Before() = %+v, want nil", msg.Before())
	}
	if msg.After() == nil {
		t.Error("After() is nil")
	}
	if msg.Relation() != 42 {
		t.Errorf("Relation() = %d, want 42", msg.Relation())
	}
}

func TestDecodeInsertBadMarker(t *testing.T) {
	payload := []byte{byte(MessageTypeInsert)}
	payload = binary.BigEndian.AppendUint32(payload, 42)
	payload = append(payload, TupleTypeKey)
	payload = append(payload, buildTuple(text("1"))...)

	_, err := DecodeInsert(payload)
	var marker *UnexpectedMarkerError
	if !errors.As(err, &marker) {
		t.Fatalf("got %v, want UnexpectedMarkerError", err)
	}
	if marker.Actual != TupleTypeKey {
		t.Errorf("Actual = %q, want %q", marker.Actual, TupleTypeKey)
	}
}

func TestDecodeDelete(t *testing.T) {
	for _, marker := range []byte{TupleTypeKey, TupleTypeOld} {
		payload := buildDelete(42, marker, text("7"), null())

		msg, err := DecodeDelete(payload)
		if err != nil {
			t.Fatalf("marker %q: DecodeDelete failed: %v", marker, err)
		}
		if msg.OldTupleType != marker {
			t.Errorf("OldTupleType = %q, want %q", msg.OldTupleType, marker)
		}
		if msg.Before() == nil {
			t.Fatal("Before() is nil")
		}
		if msg.After() != nil {
			t.Errorf("After() = %+v, want nil", msg.After())
		}
	}
}

func TestDecodeDeleteBadMarker(t *testing.T) {
	payload := buildDelete(42, TupleTypeNew, text("7"))

	_, err := DecodeDelete(payload)
	var marker *UnexpectedMarkerError
	if !errors.As(err, &marker) {
		t.Fatalf("got %v, want UnexpectedMarkerError", err)
	}
	if marker.Actual != TupleTypeNew {
		t.Errorf("Actual = %q, want %q", marker.Actual, TupleTypeNew)
	}
}

func TestDecodeRelation(t *testing.T) {
	payload := []byte{byte(MessageTypeRelation)}
	payload = binary.BigEndian.AppendUint32(payload, 19712)
	payload = append(payload, 6)
	payload = append(payload, "public"...)
	// Relation name, replica identity and column definitions follow on the
	// wire and are ignored.
	payload = append(payload, "tickets\x00d\x00\x1c"...)

	msg, err := DecodeRelation(payload)
	if err != nil {
		t.Fatalf("DecodeRelation failed: %v", err)
	}
	if msg.RelationID != 19712 {
		t.Errorf("RelationID = %d, want 19712", msg.RelationID)
	}
	if msg.Namespace != "public" {
		t.Errorf("Namespace = %q, want %q", msg.Namespace, "public")
	}
}

func TestDecodeTagMismatch(t *testing.T) {
	mistagged := append([]byte{'Z'}, updateFixture[1:]...)

	cases := []struct {
		name       string
		decode     func() error
		want       MessageType
		wantActual MessageType
	}{
		{"begin", func() error { _, err := DecodeBegin(commitFixture); return err }, MessageTypeBegin, MessageTypeCommit},
		{"commit", func() error { _, err := DecodeCommit(beginFixture); return err }, MessageTypeCommit, MessageTypeBegin},
		{"relation", func() error { _, err := DecodeRelation(beginFixture); return err }, MessageTypeRelation, MessageTypeBegin},
		{"insert", func() error { _, err := DecodeInsert(mistagged); return err }, MessageTypeInsert, MessageType('Z')},
		{"update", func() error { _, err := DecodeUpdate(beginFixture); return err }, MessageTypeUpdate, MessageTypeBegin},
		{"delete", func() error { _, err := DecodeDelete(updateFixture); return err }, MessageTypeDelete, MessageTypeUpdate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.decode()
			var mismatch *TagMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("got %v, want TagMismatchError", err)
			}
			if mismatch.Expected != tc.want {
				t.Errorf("Expected = %q, want %q", byte(mismatch.Expected), byte(tc.want))
			}
			if mismatch.Actual != tc.wantActual {
				t.Errorf("Actual = %q, want %q", byte(mismatch.Actual), byte(tc.wantActual))
			}
		})
	}
}

func TestDecodeDispatch(t *testing.T) {
	cases := []struct {
		name     string
		payload  []byte
		wantType MessageType
		isChange bool
	}{
		{"begin", beginFixture, MessageTypeBegin, false},
		{"commit", commitFixture, MessageTypeCommit, false},
		{"update", updateFixture, MessageTypeUpdate, true},
		{"insert", buildInsert(42, text("1")), MessageTypeInsert, true},
		{"delete", buildDelete(42, TupleTypeKey, text("1")), MessageTypeDelete, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.payload)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if msg.Type() != tc.wantType {
				t.Errorf("Type() = %q, want %q", byte(msg.Type()), byte(tc.wantType))
			}
			if _, ok := msg.(ChangeEvent); ok != tc.isChange {
				t.Errorf("ChangeEvent = %v, want %v", ok, tc.isChange)
			}
		})
	}
}

func TestDecodeUnrecognizedTag(t *testing.T) {
	// Truncate, origin, type and logical decoding messages are all outside
	// the decoded subset.
	for _, tag := range []byte{'X', 'T', 'O', 'Y', 'M'} {
		_, err := Decode(append([]byte{tag}, "payload"...))
		var unrecognized *UnrecognizedTagError
		if !errors.As(err, &unrecognized) {
			t.Fatalf("tag %q: got %v, want UnrecognizedTagError", tag, err)
		}
		if unrecognized.Tag != tag {
			t.Errorf("Tag = %q, want %q", unrecognized.Tag, tag)
		}
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	_, err := Decode(nil)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"begin", beginFixture},
		{"commit", commitFixture},
		{"update", updateFixture},
		{"insert", buildInsert(42, text("hello"), null())},
		{"delete", buildDelete(42, TupleTypeOld, text("hello"))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for cut := 1; cut < len(tc.payload); cut++ {
				_, err := Decode(tc.payload[:cut])
				if !errors.Is(err, io.ErrUnexpectedEOF) {
					t.Fatalf("cut at %d: got %v, want io.ErrUnexpectedEOF", cut, err)
				}
			}
		})
	}
}

func TestPgTimestamp(t *testing.T) {
	if got := pgTimestamp(0); !got.Equal(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("pgTimestamp(0) = %s, want protocol epoch", got)
	}
	if got := pgTimestamp(722812410840830); !got.Equal(fixtureCommitTime) {
		t.Errorf("pgTimestamp(722812410840830) = %s, want %s", got, fixtureCommitTime)
	}
}

func TestMessageStrings(t *testing.T) {
	begin, err := DecodeBegin(beginFixture)
	if err != nil {
		t.Fatalf("DecodeBegin failed: %v", err)
	}
	if s := begin.String(); !strings.Contains(s, "xid=2093") {
		t.Errorf("Begin String() = %q, want xid in it", s)
	}

	update, err := DecodeUpdate(updateFixture)
	if err != nil {
		t.Fatalf("DecodeUpdate failed: %v", err)
	}
	if s := update.String(); !strings.Contains(s, "relation=19712") {
		t.Errorf("Update String() = %q, want relation in it", s)
	}
}
