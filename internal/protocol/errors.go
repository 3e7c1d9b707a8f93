package protocol

import (
	"errors"
	"fmt"
)

// HubError is a typed outcome returned by the store engine and the trie.
//
// Validation, conflict and duplicate errors are expected results of merging
// replicated data and are safe to report back to the submitter. Internal
// errors indicate a storage failure or a broken invariant.
type HubError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes hub errors.
type ErrorCode string

const (
	// ErrCodeValidationFailure indicates a malformed message or a missing
	// required body field.
	ErrCodeValidationFailure ErrorCode = "bad_request.validation_failure"

	// ErrCodeConflict indicates the message loses to a newer existing record.
	ErrCodeConflict ErrorCode = "bad_request.conflict"

	// ErrCodeDuplicate indicates the message is already merged.
	ErrCodeDuplicate ErrorCode = "bad_request.duplicate"

	// ErrCodeInvalidParam indicates a bad argument to an operation.
	ErrCodeInvalidParam ErrorCode = "bad_request.invalid_param"

	// ErrCodePrunable indicates the message would be pruned immediately.
	ErrCodePrunable ErrorCode = "bad_request.prunable"

	// ErrCodeNotFound indicates the requested record does not exist.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeInternal indicates a storage failure or invariant violation.
	ErrCodeInternal ErrorCode = "internal_error"
)

// Error implements the error interface.
func (e *HubError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail returns e with an extra detail entry.
func (e *HubError) WithDetail(key, value string) *HubError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first HubError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var he *HubError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool { return hasCode(err, ErrCodeValidationFailure) }

// IsConflict reports whether err is a conflict.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsDuplicate reports whether err is a duplicate.
func IsDuplicate(err error) bool { return hasCode(err, ErrCodeDuplicate) }

// IsInvalidParam reports whether err is an invalid parameter error.
func IsInvalidParam(err error) bool { return hasCode(err, ErrCodeInvalidParam) }

// IsPrunable reports whether err is a prunable rejection.
func IsPrunable(err error) bool { return hasCode(err, ErrCodePrunable) }

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsInternal reports whether err is an internal error.
func IsInternal(err error) bool { return hasCode(err, ErrCodeInternal) }

// NewValidationError creates a validation failure.
func NewValidationError(message string) *HubError {
	return &HubError{Code: ErrCodeValidationFailure, Message: message}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *HubError {
	return &HubError{Code: ErrCodeConflict, Message: message}
}

// NewDuplicateError creates a duplicate error.
func NewDuplicateError(message string) *HubError {
	return &HubError{Code: ErrCodeDuplicate, Message: message}
}

// NewInvalidParamError creates an invalid parameter error.
func NewInvalidParamError(message string) *HubError {
	return &HubError{Code: ErrCodeInvalidParam, Message: message}
}

// NewPrunableError creates a prunable rejection.
func NewPrunableError(message string) *HubError {
	return &HubError{Code: ErrCodePrunable, Message: message}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *HubError {
	return &HubError{Code: ErrCodeNotFound, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *HubError {
	return &HubError{Code: ErrCodeInternal, Message: message}
}
