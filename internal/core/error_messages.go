// # Error Codes Reference
//
// Errors surfaced by the HTTP API and the harvest status carry a stable code
// so operators can quote it when reporting a problem.
//
// # Format Errors (FMT001-FMT099)
//
//	FMT001 - Unsupported format: No driver recognizes the file
//	         Action: Check the file extension and instrument export settings
//	FMT002 - Not ingestible: The file is recognized but has no time-series data
//	         Action: Settings files are skipped, point at the data export instead
//
// # Column Errors (COL001-COL099)
//
//	COL001 - Missing input: A requested column is neither in the file nor derivable
//	         Action: Add a column override or drop the column from the request
//	COL002 - Out of order: test_time decreased between rows
//	         Action: Re-export the file in acquisition order
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Not found: The file does not exist or is outside the harvest roots
//	FILE002 - Parse error: A value in the file could not be parsed
//
// # Harvest Errors (HRV001-HRV099)
//
//	HRV001 - Busy: Too many exports in progress
//
// # Database Errors (DB001-DB099)
//
// Matched on the driver's error text, case-insensitively:
//
//	DB001 - Duplicate key           Patterns: "duplicate key"
//	DB004 - Connection refused      Patterns: "connection refused"
//	DB006 - Timeout                 Patterns: "timeout", "context deadline exceeded"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check the harvester logs for the original error
package core

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrorInfo provides a stable code and an operator-facing message for an error.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// sentinelCodes is checked with errors.Is before any text matching.
// Order matters: the first match wins.
var sentinelCodes = []struct {
	target error
	info   ErrorInfo
}{
	{ErrUnsupportedFormat, ErrorInfo{"FMT001", "Unsupported file format", "Check the file extension and instrument export settings"}},
	{ErrNoDriver, ErrorInfo{"FMT001", "Unsupported file format", "Check the file extension and instrument export settings"}},
	{ErrNotIngestible, ErrorInfo{"FMT002", "File has no time-series data", "Settings files are skipped, point at the data export instead"}},
	{ErrMissingRequiredInput, ErrorInfo{"COL001", "A requested column is not available", "Add a column override or drop the column from the request"}},
	{ErrOutOfOrder, ErrorInfo{"COL002", "Rows are not in time order", "Re-export the file in acquisition order"}},
	{fs.ErrNotExist, ErrorInfo{"FILE001", "File not found", "Check the path is inside a harvest root"}},
	{ErrTooManyExports, ErrorInfo{"HRV001", "Too many exports in progress", "Wait a moment and try again"}},
}

// errorPatterns maps technical error text (case-insensitive) to codes for
// errors that do not carry a sentinel, mostly from the database driver.
var errorPatterns = []struct {
	pattern string
	info    ErrorInfo
}{
	{"parse error", ErrorInfo{"FILE002", "A value in the file could not be parsed", "Check the file for truncated or hand-edited rows"}},
	{"duplicate key", ErrorInfo{"DB001", "The data set was already loaded", ""}},
	{"connection refused", ErrorInfo{"DB004", "Unable to connect to database", "Try again in a few moments"}},
	{"context deadline exceeded", ErrorInfo{"DB006", "Operation timed out", "Try again later"}},
	{"timeout", ErrorInfo{"DB006", "Operation timed out", "Try again later"}},
}

var defaultInfo = ErrorInfo{
	Code:    "ERR000",
	Message: "An unexpected error occurred",
	Action:  "Check the harvester logs",
}

// Describe maps err to a stable ErrorInfo.
// A nil error yields the zero ErrorInfo.
func Describe(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.target) {
			return sc.info
		}
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return errorPatterns[0].info
	}

	text := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(text, ep.pattern) {
			return ep.info
		}
	}
	return defaultInfo
}

// FormatError renders err as "Message (Code: XXX). Action".
func FormatError(err error) string {
	info := Describe(err)
	if info.Code == "" {
		return ""
	}
	if info.Action == "" {
		return fmt.Sprintf("%s (Code: %s)", info.Message, info.Code)
	}
	return fmt.Sprintf("%s (Code: %s). %s", info.Message, info.Code, info.Action)
}

// IsKnown reports whether err maps to a specific code rather than ERR000.
func IsKnown(err error) bool {
	return err != nil && Describe(err).Code != defaultInfo.Code
}
