package core

// error_messages.go maps technical errors to user-facing messages.
//
// # Error Codes Reference
//
// When a request fails, clients receive a code they can quote to support.
// Codes are grouped by category:
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found: The session does not exist or has expired
//	         Action: Create a new session and upload the reports again
//	         Patterns: "session not found"
//
//	SES002 - Nothing to process: The session has no completed uploads
//	         Action: Finish at least one upload before starting processing
//	         Patterns: "no completed uploads"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Upload not found: The upload was never started or was already completed
//	         Action: Start the upload again with /upload/init
//	         Patterns: "upload not found"
//
//	UPL002 - Invalid upload id: The upload id is malformed
//	         Action: Use the upload_id returned by /upload/init
//	         Patterns: "invalid upload id"
//
//	UPL003 - File too large: The declared size exceeds the server limit
//	         Action: Split the report or ask an administrator to raise the limit
//	         Patterns: "file too large"
//
//	UPL004 - Invalid size: total_size must be zero or more
//	         Action: Send the exact file size in bytes
//	         Patterns: "invalid total_size"
//
// # Content-Range Errors (RNG001-RNG099)
//
//	RNG001 - Missing range: The chunk has no Content-Range header
//	         Patterns: "missing content-range"
//
//	RNG002 - Bad range: The Content-Range header is malformed or out of bounds
//	         Patterns: "bad content-range"
//
//	RNG003 - Size mismatch: The range total differs from total_size
//	         Patterns: "total_size mismatch"
//
//	RNG004 - Length mismatch: The body length differs from the range
//	         Patterns: "chunk length mismatch"
//
//	RNG005 - Chunk too large: The chunk exceeds the server limit
//	         Patterns: "chunk too large"
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - No results: Processing has not produced any bucket file yet
//	         Patterns: "no results to export"
//
//	EXP002 - Indexing failed: The search cluster rejected or did not answer a bulk request
//	         Patterns: "bulk request failed"
//
//	EXP003 - Indexing disabled: No search cluster is configured
//	         Patterns: "indexing not configured"
//
//	EXP004 - Publishing disabled: No object store is configured
//	         Patterns: "publishing not configured"
//
//	EXP005 - History disabled: No database is configured
//	         Patterns: "run history not configured"
//
//	EXP006 - Run in progress: The bucket files are still being written
//	         Action: Wait for the status event, then export again
//	         Patterns: "processing still running"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled
//	         Patterns: "context canceled"
//
//	REQ002 - Request timeout
//	         Patterns: "context deadline exceeded"
//
//	REQ003 - System busy: Every processing slot is taken
//	         Patterns: "too many concurrent runs"
//
//	REQ004 - Invalid request: The request body failed validation
//	         Patterns: "invalid request"
//
//	REQ005 - Rate limited: The client sent too many requests in one minute
//	         Patterns: "rate limit exceeded"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the server log for the
// technical error, correlated by request id.
//
// Patterns are matched case-insensitively using strings.Contains. The first
// matching pattern wins, so specific patterns come before general ones.

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

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Order matters: the first match wins.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Session Errors (SES001-SES002)
	// =========================================================================
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Session not found",
			Action:  "Create a new session and upload the reports again",
			Code:    "SES001",
		},
	},
	{
		pattern: "no completed uploads",
		msg: UserMessage{
			Message: "The session has no completed uploads",
			Action:  "Finish at least one upload before starting processing",
			Code:    "SES002",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL004)
	// =========================================================================
	{
		pattern: "upload not found",
		msg: UserMessage{
			Message: "Upload not found",
			Action:  "Start the upload again",
			Code:    "UPL001",
		},
	},
	{
		pattern: "invalid upload id",
		msg: UserMessage{
			Message: "Invalid upload id",
			Action:  "Use the upload_id returned when the upload was started",
			Code:    "UPL002",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the report or ask an administrator to raise the limit",
			Code:    "UPL003",
		},
	},
	{
		pattern: "invalid total_size",
		msg: UserMessage{
			Message: "Invalid file size",
			Action:  "Send the exact file size in bytes",
			Code:    "UPL004",
		},
	},

	// =========================================================================
	// Content-Range Errors (RNG001-RNG005)
	// =========================================================================
	{
		pattern: "missing content-range",
		msg: UserMessage{
			Message: "Chunk is missing its Content-Range header",
			Action:  "Send Content-Range: bytes <start>-<end>/<total> with every chunk",
			Code:    "RNG001",
		},
	},
	{
		pattern: "bad content-range",
		msg: UserMessage{
			Message: "Malformed Content-Range header",
			Action:  "Use bytes <start>-<end>/<total> with start <= end < total",
			Code:    "RNG002",
		},
	},
	{
		pattern: "total_size mismatch",
		msg: UserMessage{
			Message: "Content-Range total does not match the declared file size",
			Action:  "Use the same total_size for every chunk",
			Code:    "RNG003",
		},
	},
	{
		pattern: "chunk length mismatch",
		msg: UserMessage{
			Message: "Chunk body length does not match its Content-Range",
			Action:  "Resend the chunk",
			Code:    "RNG004",
		},
	},
	{
		pattern: "chunk too large",
		msg: UserMessage{
			Message: "Chunk exceeds the maximum chunk size",
			Action:  "Send smaller chunks",
			Code:    "RNG005",
		},
	},

	// =========================================================================
	// Export Errors (EXP001-EXP006)
	// =========================================================================
	{
		pattern: "processing still running",
		msg: UserMessage{
			Message: "Processing is still running",
			Action:  "Wait for the status event, then export again",
			Code:    "EXP006",
		},
	},
	{
		pattern: "no results to export",
		msg: UserMessage{
			Message: "No results yet",
			Action:  "Run processing and wait for it to finish",
			Code:    "EXP001",
		},
	},
	{
		pattern: "bulk request failed",
		msg: UserMessage{
			Message: "The search cluster rejected the data",
			Action:  "Check the cluster address and credentials, then try again",
			Code:    "EXP002",
		},
	},
	{
		pattern: "indexing not configured",
		msg: UserMessage{
			Message: "Indexing is not configured",
			Action:  "Set ES_ENABLED=true and ES_BASE_URL on the server",
			Code:    "EXP003",
		},
	},
	{
		pattern: "publishing not configured",
		msg: UserMessage{
			Message: "Publishing is not configured",
			Action:  "Set PUBLISH_BUCKET_URL on the server",
			Code:    "EXP004",
		},
	},
	{
		pattern: "run history not configured",
		msg: UserMessage{
			Message: "Run history is not configured",
			Action:  "Set DATABASE_URL on the server",
			Code:    "EXP005",
		},
	},

	// =========================================================================
	// Request Errors (REQ001-REQ005)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Please try again",
			Code:    "REQ002",
		},
	},
	{
		pattern: "too many concurrent runs",
		msg: UserMessage{
			Message: "System is busy processing other sessions",
			Action:  "Please wait a moment and try again",
			Code:    "REQ003",
		},
	},
	{
		pattern: "rate limit exceeded",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Wait a minute before sending more requests",
			Code:    "REQ005",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "Invalid request",
			Action:  "Check the request body against the API documentation",
			Code:    "REQ004",
		},
	},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error into a user-facing message.
// A nil error yields an empty UserMessage.
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

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
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
