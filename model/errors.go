package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Session and list error codes.
const (
	ErrUnknownStep          = "UNKNOWN_STEP"
	ErrSubmissionInProgress = "SUBMISSION_IN_PROGRESS"
	ErrMutationInFlight     = "MUTATION_IN_FLIGHT"
	ErrRemoteError          = "REMOTE_ERROR"
	ErrUploadRejected       = "UPLOAD_REJECTED"
	ErrSuperseded           = "SUPERSEDED"
)

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AsEnvelope finds the first ErrorEnvelope in err's chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// HasCode reports whether err carries an ErrorEnvelope with the given code.
func HasCode(err error, code string) bool {
	ee, ok := AsEnvelope(err)
	return ok && ee.Code == code
}

// refusalCodes are codes for requests the service declined. They are the
// caller's problem, not a failure of the service or its backends.
var refusalCodes = map[string]bool{
	ErrBadRequest:           true,
	ErrUnauthorized:         true,
	ErrForbidden:            true,
	ErrNotFound:             true,
	ErrConflict:             true,
	ErrValidationError:      true,
	ErrUnknownStep:          true,
	ErrSubmissionInProgress: true,
	ErrMutationInFlight:     true,
	ErrUploadRejected:       true,
	ErrSuperseded:           true,
}

// IsRefusal reports whether err carries an ErrorEnvelope whose code marks a
// declined request rather than a failure.
func IsRefusal(err error) bool {
	ee, ok := AsEnvelope(err)
	return ok && refusalCodes[ee.Code]
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewUnknownStepError returns an UNKNOWN_STEP error for a step id that is not
// part of the flow.
func NewUnknownStepError(flowID, stepID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownStep,
		Message: fmt.Sprintf("step %q is not part of flow %q", stepID, flowID),
	}
}

// NewSubmissionInProgressError returns a SUBMISSION_IN_PROGRESS error.
func NewSubmissionInProgressError(flowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSubmissionInProgress,
		Message: fmt.Sprintf("a submission for flow %q is already in progress", flowID),
	}
}

// NewMutationInFlightError returns a MUTATION_IN_FLIGHT error for an item that
// already has a pending remote mutation.
func NewMutationInFlightError(itemID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrMutationInFlight,
		Message: fmt.Sprintf("a change to %q is already in progress", itemID),
	}
}

// NewRemoteError returns a REMOTE_ERROR wrapping the gateway failure. The
// message is safe to show to the user; the cause is kept for logs.
func NewRemoteError(msg string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRemoteError, Message: msg, cause: cause}
}

// NewUploadRejectedError returns an UPLOAD_REJECTED error with per-file details.
func NewUploadRejectedError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUploadRejected,
		Message: "One or more files were rejected",
		Details: details,
	}
}

// NewSupersededError returns a SUPERSEDED error for work replaced by a newer
// request before it completed.
func NewSupersededError(what string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSuperseded,
		Message: what + " was replaced by a newer request",
	}
}
