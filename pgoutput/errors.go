package pgoutput

import "fmt"

// TagMismatchError is returned by a per-kind decoder when the payload's
// leading tag byte does not identify that kind.
type TagMismatchError struct {
	Expected MessageType
	Actual   MessageType
}

func (e *TagMismatchError) Error() string {
	return fmt.Sprintf("message tag %q does not match expected %q", byte(e.Actual), byte(e.Expected))
}

// UnexpectedMarkerError is returned when a change message carries a tuple
// marker the format does not allow at that position.
type UnexpectedMarkerError struct {
	Expected []byte
	Actual   byte
}

func (e *UnexpectedMarkerError) Error() string {
	return fmt.Sprintf("unexpected tuple marker %q, want one of %q", e.Actual, e.Expected)
}

// UnrecognizedTagError is returned by Decode for tag bytes that do not map
// to any known message kind. Consumers typically skip such messages rather
// than fail.
type UnrecognizedTagError struct {
	Tag byte
}

func (e *UnrecognizedTagError) Error() string {
	return fmt.Sprintf("unrecognized message tag %q", e.Tag)
}
