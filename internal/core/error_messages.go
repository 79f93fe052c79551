package core

// error_messages.go maps technical errors to user-facing messages with a
// short code that users can quote to support.
//
// Codes by category:
//
//	FILE001-FILE006  upload decoding and export format
//	MAP001-MAP003    column mapping and list name
//	RUN001-RUN006    run sessions and limits
//	LIST001-LIST002  saved lists
//	DB001-DB003      list store connectivity
//	AUTH001          missing identity
//	RATE001          request throttling
//	ERR000           fallback; check the server log for the technical error
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so more specific patterns come first.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// File errors. "file too large" must precede "invalid csv" because the
	// size limit trips inside the CSV reader and gets wrapped by it.
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the list into smaller files", "FILE001"}},
	{"invalid csv", UserMessage{"File is not a valid CSV", "Check the header row and that every row has at most as many columns as the header", "FILE002"}},
	{"invalid xlsx", UserMessage{"File is not a readable Excel workbook", "Save the sheet as .xlsx or export it as CSV", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a CSV file to upload", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file has no data rows", "Upload a file with a header row and at least one address", "FILE005"}},
	{"unsupported export format", UserMessage{"That download format is not supported", "Choose CSV or XLSX", "FILE006"}},

	// Column mapping
	{"email column is required", UserMessage{"Please select the email column", "Pick the column that holds the addresses", "MAP001"}},
	{"column not found", UserMessage{"Selected column is not in the file", "Choose one of the file's header columns", "MAP002"}},
	{"invalid list name", UserMessage{"List name is too long", "Use at most 200 characters", "MAP003"}},

	// Runs
	{"too many runs", UserMessage{"The system is busy validating other lists", "Please wait a moment and try again", "RUN001"}},
	{"upload not found", UserMessage{"Upload session not found", "The upload may have expired. Please upload the file again", "RUN002"}},
	{"run not found", UserMessage{"Validation run not found", "The results may have expired. Please start a new run", "RUN003"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "RUN004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller list or try again later", "RUN005"}},
	{"run not finished", UserMessage{"Validation is still running", "Wait for the run to complete", "RUN006"}},

	// Lists
	{"list not found", UserMessage{"List not found", "Check the list link or open it from My Lists", "LIST001"}},
	{"belongs to another user", UserMessage{"List not found", "Check the list link or open it from My Lists", "LIST002"}},

	// Store connectivity
	{"connection refused", UserMessage{"Unable to reach the list database", "Your results are still available to download. Please try again shortly", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB003"}},

	{"unauthenticated", UserMessage{"You need to sign in", "Sign in and retry", "AUTH001"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// A nil error maps to the zero UserMessage; unknown errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action", or "" for nil.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a specific pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
