package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the loader and storage collaborators.
var (
	// ErrVersionConflict is returned by ReserveVersion when the version is
	// already reserved in the scope.
	ErrVersionConflict = errors.New("version already reserved")

	// ErrVersionContention is returned when every reservation attempt lost
	// the race to another writer.
	ErrVersionContention = errors.New("version contention: retries exhausted")

	ErrBatchNotFound     = errors.New("batch not found")
	ErrAlreadyRolledBack = errors.New("batch already rolled back")
	ErrBatchNotCommitted = errors.New("batch not committed")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyFile         = errors.New("empty file")
	ErrTooManyLoads      = errors.New("too many concurrent loads, please try again later")

	// ErrInboxDisabled is returned for HTTP loads when no inbox is configured.
	ErrInboxDisabled = errors.New("loading over http is disabled")

	// ErrInvalidRequest marks malformed API parameters.
	ErrInvalidRequest = errors.New("invalid request")
)

// RowFormatKind classifies a RowFormatError.
type RowFormatKind string

const (
	KindCellCount     RowFormatKind = "cell_count"
	KindMissingColumn RowFormatKind = "missing_column"
	KindEmpty         RowFormatKind = "empty"
	KindType          RowFormatKind = "type"
	KindMalformed     RowFormatKind = "malformed"
)

// RowFormatError reports a row that does not fit its column map.
// Row is the 1-based data row, or 0 for problems with the header itself.
type RowFormatError struct {
	Row    int
	Line   int
	Kind   RowFormatKind
	Column string
	Field  string
	Value  string

	// Expected and Got are set for KindCellCount.
	Expected int
	Got      int

	Err error
}

func (e *RowFormatError) Error() string {
	where := "header"
	if e.Row > 0 {
		where = fmt.Sprintf("row %d", e.Row)
	}
	if e.Line > 0 {
		where += fmt.Sprintf(" (line %d)", e.Line)
	}

	switch e.Kind {
	case KindCellCount:
		return fmt.Sprintf("%s: cell count mismatch: got %d, want %d", where, e.Got, e.Expected)
	case KindMissingColumn:
		return fmt.Sprintf("%s: missing source column %q for field %s", where, e.Column, e.Field)
	case KindEmpty:
		return fmt.Sprintf("%s: field %s (column %q) is empty and not nullable", where, e.Field, e.Column)
	case KindType:
		return fmt.Sprintf("%s: field %s (column %q): cannot coerce %q: %v", where, e.Field, e.Column, e.Value, e.Err)
	default:
		return fmt.Sprintf("%s: malformed csv: %v", where, e.Err)
	}
}

func (e *RowFormatError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure reported by the storage collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
