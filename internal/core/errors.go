package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when no driver recognizes a file.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNotIngestible is returned when a recognized file carries no time-series data.
	ErrNotIngestible = errors.New("file is recognized but has no data")

	// ErrMissingRequiredInput is returned when a required column can be neither
	// read from the file nor synthesized.
	ErrMissingRequiredInput = errors.New("missing required input")

	// ErrOutOfOrder is returned when test_time decreases between consecutive rows.
	ErrOutOfOrder = errors.New("test_time out of order")

	// ErrNoDriver is returned when no registered driver handles a tag set.
	ErrNoDriver = errors.New("no driver for format")
)

// MissingInputError names the column that could not be produced.
// Row is 0 when the failure is detected before any row is read.
type MissingInputError struct {
	Column string
	Row    int64
}

func (e *MissingInputError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("%s: column %q", ErrMissingRequiredInput, e.Column)
	}
	return fmt.Sprintf("%s: column %q at row %d", ErrMissingRequiredInput, e.Column, e.Row)
}

// Is lets errors.Is match ErrMissingRequiredInput.
func (e *MissingInputError) Is(target error) bool {
	return target == ErrMissingRequiredInput
}

// OutOfOrderError reports where test_time went backwards.
type OutOfOrderError struct {
	Row      int64
	Prev     float64
	Observed float64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("%s: row %d has test_time %g after %g", ErrOutOfOrder, e.Row, e.Observed, e.Prev)
}

func (e *OutOfOrderError) Is(target error) bool {
	return target == ErrOutOfOrder
}

// ParseError wraps a driver failure to read a value at a known position.
type ParseError struct {
	Path   string
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("parse error in %s line %d column %q: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error in %s line %d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
