package chatsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/randchat/pkg/httpx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeNetwork             = "network_error"
	ErrorCodeService             = "service_error"
	ErrorCodeIncorrectCredential = "incorrect_credential"
	ErrorCodeUnauthorized        = "unauthorized"
	ErrorCodeTicketForbidden     = "ticket_forbidden"
	ErrorCodeAlreadyMatching     = "already_matching"
	ErrorCodeTimeout             = "timeout"
)

// ============================================================================
// APIError
// ============================================================================

// APIError is the single error type returned by the SDK. Code classifies the
// failure; StatusCode is zero when no response was received.
type APIError struct {
	// StatusCode is the HTTP status code, if any
	StatusCode int

	// Code is one of the ErrorCode constants
	Code string

	// Description is a human-readable description of the error
	Description string

	// Err is the underlying cause, e.g. the transport error
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *APIError) Unwrap() error { return e.Err }

// Is matches any *APIError with the same Code, so errors.Is(err, ErrTimeout)
// works regardless of status or description.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	// ErrNetwork is returned when the request never produced a response.
	ErrNetwork = &APIError{Code: ErrorCodeNetwork, Description: "network problem"}

	// ErrService is returned for unexpected statuses and malformed bodies.
	ErrService = &APIError{Code: ErrorCodeService, Description: "service problem"}

	// ErrIncorrectCredential is returned when the server rejects the secret.
	ErrIncorrectCredential = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeIncorrectCredential,
		Description: "incorrect secret",
	}

	// ErrUnauthorized is returned when a fresh token is still rejected.
	ErrUnauthorized = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeUnauthorized,
		Description: "unauthorized",
	}

	// ErrTicketForbidden is returned when polling a ticket owned by someone else.
	ErrTicketForbidden = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeTicketForbidden,
		Description: "wrong ticket",
	}

	// ErrAlreadyMatching is returned when the user already has an open ticket.
	ErrAlreadyMatching = &APIError{
		StatusCode:  http.StatusTooManyRequests,
		Code:        ErrorCodeAlreadyMatching,
		Description: "already in matching",
	}

	// ErrTimeout is returned when a long poll hit the gateway timeout.
	ErrTimeout = &APIError{
		StatusCode:  httpx.StatusOriginTimeout,
		Code:        ErrorCodeTimeout,
		Description: "long poll timed out",
	}
)

// ============================================================================
// Classification
// ============================================================================

// IsAuth reports whether err belongs to the authentication family.
func IsAuth(err error) bool {
	return errors.Is(err, ErrIncorrectCredential) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrTicketForbidden)
}

// IsTransient reports whether a background loop may retry after err.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrService)
}

// UserMessage returns the short text shown to the user for err.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrorCodeNetwork:
			return "network problem"
		case ErrorCodeService:
			return "service problem"
		case ErrorCodeIncorrectCredential:
			return "incorrect secret"
		case ErrorCodeUnauthorized:
			return "session expired"
		case ErrorCodeTicketForbidden:
			return "wrong ticket"
		case ErrorCodeAlreadyMatching:
			return "already in matching"
		case ErrorCodeTimeout:
			return "still waiting"
		}
	}
	if errors.Is(err, ErrChannelClosed) {
		return "connection closed"
	}
	return "unexpected error"
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

func networkError(err error) error {
	return &APIError{Code: ErrorCodeNetwork, Description: "failed to send request", Err: err}
}

func serviceError(statusCode int, description string, err error) error {
	return &APIError{StatusCode: statusCode, Code: ErrorCodeService, Description: description, Err: err}
}

// parseErrorResponse maps a non-success response to a typed error. Returns
// nil for 2xx. A 400 is only an incorrect credential on login, which checks
// for it before calling this.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if httpx.IsSuccess(resp.StatusCode) {
		return nil
	}

	desc := string(body)
	if desc == "" {
		desc = http.StatusText(resp.StatusCode)
	}

	code := ErrorCodeService
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		code = ErrorCodeUnauthorized
	case http.StatusForbidden:
		code = ErrorCodeTicketForbidden
	case http.StatusTooManyRequests:
		code = ErrorCodeAlreadyMatching
	case httpx.StatusOriginTimeout:
		code = ErrorCodeTimeout
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        code,
		Description: truncate(desc, 200),
	}
}

// unexpectedStatus is parseErrorResponse for callers that expected one
// exact status. It never returns nil: any other 2xx is a service error.
func unexpectedStatus(resp *http.Response, body []byte) error {
	if err := parseErrorResponse(resp, body); err != nil {
		return err
	}
	return serviceError(resp.StatusCode, "unexpected status", nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
