package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ConfigInvalid indicates the module index failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ConfigurationError indicates a lazily-loaded module declares no binding selector
	ConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	// AnalysisFailed indicates the isolated re-bundle of an output file failed
	AnalysisFailed ErrorCode = "ANALYSIS_FAILED"
	// BundleFailed indicates the initial split build failed
	BundleFailed ErrorCode = "BUNDLE_FAILED"
	// PruneFailed indicates a stale artifact could not be removed
	PruneFailed ErrorCode = "PRUNE_FAILED"
	// ManifestWriteFailed indicates the manifest could not be persisted
	ManifestWriteFailed ErrorCode = "MANIFEST_WRITE_FAILED"
	// DuplicateSelector indicates two modules bind the same selector on one trigger
	DuplicateSelector ErrorCode = "DUPLICATE_SELECTOR"
	// BuildLocked indicates another process is building the same project
	BuildLocked ErrorCode = "BUILD_LOCKED"
	// LoadFailed indicates a dynamic module load was rejected at runtime
	LoadFailed ErrorCode = "LOAD_FAILED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditSource suggests editing a source or index file
	EditSource FixActionType = "edit-source"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	File        string        `json:"file,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// Error is an esmloader error with code, message, and suggestions
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new Error with the default fixes for its code
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf creates a new Error without a cause, formatting the message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// WithFix appends a suggested fix
func (e *Error) WithFix(fix FixAction) *Error {
	e.SuggestedFixes = append(e.SuggestedFixes, fix)
	return e
}

// IsCode reports whether err, or any error it wraps or aggregates, is an
// *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	switch x := err.(type) {
	case nil:
		return false
	case *Error:
		return x.Code == code || IsCode(x.cause, code)
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if IsCode(e, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsCode(x.Unwrap(), code)
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or InternalError
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "esmloader validate",
			Description: "List every problem in the module index",
		},
	},
	ConfigurationError: {
		{
			Type:        EditSource,
			Description: `Declare the binding selector in the module (export const selectorInit = "...") or set "selector" in the index entry`,
		},
	},
	DuplicateSelector: {
		{
			Type:        EditSource,
			Description: "Give each lazily-loaded module on a trigger its own selector",
		},
	},
	BuildLocked: {
		{
			Type:        EditSource,
			Description: "Stop the other esmloader process (a running build --watch holds the lock)",
		},
	},
	BundleFailed: {
		{
			Type:        RunCommand,
			Command:     "esmloader build -vv",
			Description: "Re-run the build with debug logging",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		out := make([]FixAction, len(fixes))
		copy(out, fixes)
		return out
	}
	return nil
}
