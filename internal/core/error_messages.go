package core

// # Error Codes Reference
//
// This file maps load failures to short messages with codes for support
// reference. Operators can quote the code printed next to a failed file.
//
// Typed errors are classified first; anything else falls through to a
// case-insensitive substring table.
//
// # Configuration (CFG, MAP)
//
//	CFG001 - Column map invalid: the column-map file failed validation
//	MAP001 - Unmapped source: no column map for the source or file name
//	MAP002 - Ambiguous source: the file name matches several column maps
//
// # Row Errors (ROW001-ROW099)
//
//	ROW001 - Cell count: a row has more or fewer cells than the header
//	ROW002 - Missing column: a mapped source column is not in the header
//	ROW003 - Empty value: a non-nullable field is empty and has no default
//	ROW004 - Type: a value does not coerce to its canonical type
//	ROW005 - Malformed CSV: the file is not parseable as CSV
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: the file exceeds LOAD_MAX_FILE_SIZE
//	FILE002 - File not found
//	FILE003 - Permission denied
//	FILE005 - Empty file: no records at all
//
// # Database Errors (DB004-DB099)
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # Storage and Ledger (STO, BAT)
//
//	STO001 - Version contention: every reservation attempt lost the race
//	STO002 - Storage failure: any other error from the storage collaborator
//	BAT001 - Batch not found
//	BAT002 - Batch already rolled back
//	BAT003 - Batch not committed
//
// # Load Errors (LOAD001-LOAD099)
//
//	LOAD002 - System busy: too many concurrent loads
//	LOAD003 - HTTP loads disabled: LOAD_INBOX_DIR is not set
//	LOAD004 - Cancelled
//	LOAD005 - Timed out
//
// # Requests (REQ, RATE)
//
//	REQ001 - Invalid request parameters
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/JonMunkholm/csvload/internal/colmap"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var codeMessages = map[string]UserMessage{
	"CFG001":  {"Column map is invalid", "Fix the listed problems in the column-map file", "CFG001"},
	"MAP001":  {"No column map for this source", "Add a source to the column map or pass --source", "MAP001"},
	"MAP002":  {"File name matches several column maps", "Make the match patterns distinct or pass --source", "MAP002"},
	"ROW001":  {"Row has the wrong number of cells", "Check for unquoted commas or missing cells on the reported line", "ROW001"},
	"ROW002":  {"Required column is missing from the header", "Check that the file's header matches the column map", "ROW002"},
	"ROW003":  {"Required value is empty", "Fill the value or configure a default", "ROW003"},
	"ROW004":  {"Value has the wrong format", "Check the value against the field type and date format", "ROW004"},
	"ROW005":  {"File is not valid CSV", "Ensure the file is comma-separated with balanced quotes", "ROW005"},
	"FILE001": {"File exceeds maximum size limit", "Split the file or raise LOAD_MAX_FILE_SIZE", "FILE001"},
	"FILE002": {"File not found", "Check the path", "FILE002"},
	"FILE003": {"File cannot be read", "Check file permissions", "FILE003"},
	"FILE005": {"The file is empty", "Provide a CSV file with a header and data rows", "FILE005"},
	"STO001":  {"Could not reserve a version", "Another load holds the scope; try again", "STO001"},
	"STO002":  {"Storage operation failed", "Check the database and try again", "STO002"},
	"BAT001":  {"Batch not found", "Check the batch id with `csvload batches`", "BAT001"},
	"BAT002":  {"Batch was already rolled back", "No action needed", "BAT002"},
	"BAT003":  {"Only committed batches can be rolled back", "Failed batches never wrote rows", "BAT003"},
	"LOAD002": {"Too many loads in progress", "Please wait a moment and try again", "LOAD002"},
	"LOAD003": {"Loading over HTTP is disabled", "Set LOAD_INBOX_DIR to enable it", "LOAD003"},
	"LOAD004": {"Load was cancelled", "Run the load again when ready", "LOAD004"},
	"LOAD005": {"Load timed out", "Raise LOAD_TIMEOUT or split the file", "LOAD005"},
	"REQ001":  {"Invalid request", "Check the request parameters", "REQ001"},
	"RATE001": {"Too many requests", "Please wait a moment before trying again", "RATE001"},
}

var rowKindCodes = map[RowFormatKind]string{
	KindCellCount:     "ROW001",
	KindMissingColumn: "ROW002",
	KindEmpty:         "ROW003",
	KindType:          "ROW004",
	KindMalformed:     "ROW005",
}

// sentinelCodes is checked in order with errors.Is.
var sentinelCodes = []struct {
	err  error
	code string
}{
	{context.Canceled, "LOAD004"},
	{context.DeadlineExceeded, "LOAD005"},
	{ErrFileTooLarge, "FILE001"},
	{ErrEmptyFile, "FILE005"},
	{fs.ErrNotExist, "FILE002"},
	{fs.ErrPermission, "FILE003"},
	{ErrTooManyLoads, "LOAD002"},
	{ErrInboxDisabled, "LOAD003"},
	{ErrInvalidRequest, "REQ001"},
	{ErrVersionContention, "STO001"},
	{ErrBatchNotFound, "BAT001"},
	{ErrAlreadyRolledBack, "BAT002"},
	{ErrBatchNotCommitted, "BAT003"},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages
// for errors that carry no type, mostly driver errors. The first match wins.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "rate limit",
		msg:     codeMessages["RATE001"],
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or check the logs",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&RowFormatError{Kind: KindType})
//	// msg.Code == "ROW004"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var cfgErr *colmap.ConfigError
	if errors.As(err, &cfgErr) {
		return codeMessages["CFG001"]
	}
	var unmapped *colmap.UnmappedSourceError
	if errors.As(err, &unmapped) {
		if unmapped.Ambiguous {
			return codeMessages["MAP002"]
		}
		return codeMessages["MAP001"]
	}
	var rowErr *RowFormatError
	if errors.As(err, &rowErr) {
		if code, ok := rowKindCodes[rowErr.Kind]; ok {
			return codeMessages[code]
		}
	}

	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return codeMessages[sc.code]
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var stoErr *StorageError
	if errors.As(err, &stoErr) {
		return codeMessages["STO002"]
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
