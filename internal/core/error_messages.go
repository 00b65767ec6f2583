// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// API clients receive the code with every error response and can quote it to
// support staff for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Import Request Errors (IMP001-IMP099)
//
//	IMP001 - Invalid request: The import request is incomplete or malformed
//	         Action: Check sourceUrl, reportKind, importerType and the session fields
//	         Matches: timing.ErrInvalidArgument
//
//	IMP002 - Queue full: Too many imports are waiting
//	         Action: Please wait a moment and submit the import again
//	         Matches: ErrQueueFull
//
//	IMP003 - Shutting down: The server is not accepting imports
//	         Action: Please try again in a few moments
//	         Matches: ErrPoolClosed, "shutting down"
//
//	IMP004 - Rate limited: Too many requests
//	         Action: Please wait a moment before trying again
//	         Patterns: "rate limit"
//
//	IMP005 - Checks busy: Too many checks are running
//	         Action: Please wait a moment and run the check again, or submit an asynchronous import
//	         Matches: ErrTooManyChecks
//
// # Report Errors (RPT001-RPT099)
//
//	RPT001 - Report unreachable: The report could not be downloaded
//	         Action: Check that the URL is reachable and try again
//	         Matches: timing.ErrReportUnreachable
//
//	RPT002 - HTML page: The URL returned a web page instead of a report
//	         Action: Link the CSV export, not the results page
//	         Matches: timing.ErrReportFormatInvalid + "html page"
//
//	RPT003 - Missing columns: The report does not have the expected columns
//	         Action: Check that the importer type matches the report publisher
//	         Matches: timing.ErrReportFormatInvalid + "missing required column" or "header"
//
//	RPT004 - Invalid report: The report is not in the expected format
//	         Action: Check the report kind and importer type
//	         Matches: timing.ErrReportFormatInvalid
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Job not found: No import job with this id
//	         Action: Check the job id returned when the import was submitted
//	         Matches: timing.ErrNotFound + "job"
//
//	JOB002 - Invalid transition: The job is already finished
//	         Action: Submit a new import
//	         Matches: timing.ErrInvalidStateTransition
//
// # Analysis Errors (ANL001-ANL099)
//
//	ANL001 - Invalid percentage: Percentage must be greater than 0 and at most 100
//	         Action: Pass a percentage such as 20
//	         Matches: timing.ErrInvalidArgument + "percentage"
//
//	ANL002 - Driver not found: No driver with this id
//	         Action: Check the driver id
//	         Matches: timing.ErrNotFound + "driver"
//
//	ANL003 - Event not found: No event with this id
//	         Action: Check the event id
//	         Matches: timing.ErrNotFound + "event"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Already exists: A record with this name already exists
//	        Action: Use the existing record
//	        Matches: timing.ErrResourceExists
//
//	DB002 - Results missing: Laps reference a driver without a result
//	        Action: Import the session results before the timecard
//	        Matches: timing.ErrReferentialPrecondition
//
//	DB003 - Not found: The referenced record does not exist
//	        Action: Check the ids in the request; import results first for timecards
//	        Matches: timing.ErrNotFound
//
//	DB004 - Storage unavailable: Temporary storage failure
//	        Action: Please try again in a few moments
//	        Matches: timing.ErrStoreUnavailable, "temporary storage failure",
//	                 "connection refused"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Matching
//
// Entries are tried in order and the first match wins. An entry matches when
// err wraps its kind (if set) and the lower-cased message contains its
// pattern (if set), so specific entries must come before general ones.
//
// # For Support Staff
//
// When a user reports an error code:
//  1. Look up the code in this reference
//  2. Check the associated kind and patterns to understand what triggered it
//  3. Review the suggested action to guide the user
//  4. If ERR000, check application logs for the original technical error
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern maps an error kind and/or message fragment to a user message.
type errorPattern struct {
	kind    error
	pattern string
	msg     UserMessage
}

func (ep errorPattern) matches(err error, lower string) bool {
	if ep.kind != nil && !errors.Is(err, ep.kind) {
		return false
	}
	return ep.pattern == "" || strings.Contains(lower, ep.pattern)
}

// errorPatterns is ordered specific before general.
//
// To add a new error:
//  1. Choose the appropriate category and code range
//  2. Add the entry in the correct position (specific before general)
//  3. Update the reference at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Analysis (ANL)
	// =========================================================================
	{
		kind:    timing.ErrInvalidArgument,
		pattern: "percentage",
		msg: UserMessage{
			Message: "Percentage must be greater than 0 and at most 100",
			Action:  "Pass a percentage such as 20",
			Code:    "ANL001",
		},
	},
	{
		kind:    timing.ErrNotFound,
		pattern: "driver",
		msg: UserMessage{
			Message: "No driver with this id",
			Action:  "Check the driver id",
			Code:    "ANL002",
		},
	},
	{
		kind:    timing.ErrNotFound,
		pattern: "event",
		msg: UserMessage{
			Message: "No event with this id",
			Action:  "Check the event id",
			Code:    "ANL003",
		},
	},

	// =========================================================================
	// Jobs (JOB)
	// =========================================================================
	{
		kind:    timing.ErrNotFound,
		pattern: "job",
		msg: UserMessage{
			Message: "No import job with this id",
			Action:  "Check the job id returned when the import was submitted",
			Code:    "JOB001",
		},
	},
	{
		kind: timing.ErrInvalidStateTransition,
		msg: UserMessage{
			Message: "The import job is already finished",
			Action:  "Submit a new import",
			Code:    "JOB002",
		},
	},

	// =========================================================================
	// Reports (RPT)
	// =========================================================================
	{
		kind: timing.ErrReportUnreachable,
		msg: UserMessage{
			Message: "The report could not be downloaded",
			Action:  "Check that the URL is reachable and try again",
			Code:    "RPT001",
		},
	},
	{
		kind:    timing.ErrReportFormatInvalid,
		pattern: "html page",
		msg: UserMessage{
			Message: "The URL returned a web page instead of a report",
			Action:  "Link the CSV export, not the results page",
			Code:    "RPT002",
		},
	},
	{
		kind:    timing.ErrReportFormatInvalid,
		pattern: "missing required column",
		msg: UserMessage{
			Message: "The report does not have the expected columns",
			Action:  "Check that the importer type matches the report publisher",
			Code:    "RPT003",
		},
	},
	{
		kind:    timing.ErrReportFormatInvalid,
		pattern: "header",
		msg: UserMessage{
			Message: "The report does not have the expected columns",
			Action:  "Check that the importer type matches the report publisher",
			Code:    "RPT003",
		},
	},
	{
		kind: timing.ErrReportFormatInvalid,
		msg: UserMessage{
			Message: "The report is not in the expected format",
			Action:  "Check the report kind and importer type",
			Code:    "RPT004",
		},
	},

	// =========================================================================
	// Import requests (IMP)
	// =========================================================================
	{
		kind: timing.ErrInvalidArgument,
		msg: UserMessage{
			Message: "The import request is incomplete or malformed",
			Action:  "Check sourceUrl, reportKind, importerType and the session fields",
			Code:    "IMP001",
		},
	},
	{
		kind: ErrQueueFull,
		msg: UserMessage{
			Message: "Too many imports are waiting",
			Action:  "Please wait a moment and submit the import again",
			Code:    "IMP002",
		},
	},
	{
		kind: ErrPoolClosed,
		msg: UserMessage{
			Message: "The server is not accepting imports",
			Action:  "Please try again in a few moments",
			Code:    "IMP003",
		},
	},
	{
		pattern: "shutting down",
		msg: UserMessage{
			Message: "The server is not accepting imports",
			Action:  "Please try again in a few moments",
			Code:    "IMP003",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "IMP004",
		},
	},
	{
		kind: ErrTooManyChecks,
		msg: UserMessage{
			Message: "Too many checks are running",
			Action:  "Please wait a moment and run the check again, or submit an asynchronous import",
			Code:    "IMP005",
		},
	},

	// =========================================================================
	// Database (DB)
	// =========================================================================
	{
		kind: timing.ErrResourceExists,
		msg: UserMessage{
			Message: "A record with this name already exists",
			Action:  "Use the existing record",
			Code:    "DB001",
		},
	},
	{
		kind: timing.ErrReferentialPrecondition,
		msg: UserMessage{
			Message: "Laps reference a driver without a result",
			Action:  "Import the session results before the timecard",
			Code:    "DB002",
		},
	},
	{
		kind: timing.ErrNotFound,
		msg: UserMessage{
			Message: "The referenced record does not exist",
			Action:  "Check the ids in the request; import results first for timecards",
			Code:    "DB003",
		},
	},
	{
		kind: timing.ErrStoreUnavailable,
		msg: UserMessage{
			Message: "Temporary storage failure",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: storeFailureReason,
		msg: UserMessage{
			Message: "Temporary storage failure",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Temporary storage failure",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Entries are
// tried in order; if none matches, the ERR000 fallback is returned.
//
// Example:
//
//	err := fmt.Errorf("%w: job abc", timing.ErrNotFound)
//	msg := MapError(err)
//	// msg.Code == "JOB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if ep.matches(err, lower) {
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

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-friendly message.
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
//
// Example:
//
//	ue := NewUserError(err)
//	logger.Error("import failed", "error", ue.Technical)
//	fmt.Println(ue.User.Code)
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
