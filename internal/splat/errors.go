package splat

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is.
var (
	// ErrFormat reports a malformed or unsupported container: bad marker,
	// unsupported encoding or property type, missing required properties.
	ErrFormat = errors.New("format error")

	// ErrParse reports a value-level failure at a specific record.
	ErrParse = errors.New("parse error")

	// ErrCorruptData reports a compressed payload that fails its
	// self-consistency checks.
	ErrCorruptData = errors.New("corrupt data")

	// ErrInvalidInput reports nil, empty or out-of-range arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIO reports a failure of the underlying storage.
	ErrIO = errors.New("io error")

	// ErrEmptySequence reports a sequence with no playable frame.
	ErrEmptySequence = errors.New("empty sequence")
)

// ParseError identifies the record (vertex index) that failed to parse.
// Offset is the byte offset of the record for binary payloads and -1 for
// text payloads; Field names the offending property when known.
type ParseError struct {
	Record int
	Offset int64
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse error at record %d", e.Record)
	if e.Field != "" {
		msg += fmt.Sprintf(" (property %q)", e.Field)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" offset %d", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is(err, ErrParse) match any *ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func (e *ParseError) Unwrap() error { return e.Err }

// Formatf returns an ErrFormat wrapping the formatted detail.
func Formatf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

// Corruptf returns an ErrCorruptData wrapping the formatted detail.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptData, fmt.Sprintf(format, args...))
}

// Invalidf returns an ErrInvalidInput wrapping the formatted detail.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IOf wraps an underlying storage error as ErrIO, keeping both in the chain.
func IOf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, fmt.Sprintf(format, args...), err)
}
