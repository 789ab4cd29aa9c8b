package domain

import (
	"errors"
	"fmt"
)

// Error codes carried over the API boundary. Handlers translate these
// to HTTP statuses; services never import net/http.
const (
	EINVALID      = "invalid"
	EUNAUTHORIZED = "unauthorized"
	EFORBIDDEN    = "forbidden"
	ENOTFOUND     = "not_found"
	ECONFLICT     = "conflict"
	EGONE         = "gone"           // resource existed but no longer does, e.g. expired invitation
	EQUOTA        = "quota_exceeded" // entitlement limit reached
	ESEATLIMIT    = "seat_limit"     // department has no seats left
	EINTERNAL     = "internal"
)

// Error is the application error type. Code drives the API response,
// Message is safe to show to the caller, and Err holds the underlying
// cause when there is one.
type Error struct {
	Code    string
	Op      string // operation that failed, e.g. "membership.accept_invitation"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code, op and client-safe message to an underlying
// error while keeping it reachable through errors.Is / errors.As.
func Wrap(err error, code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// ErrorCode extracts the code from err. Unknown error types are
// reported as EINTERNAL so unexpected failures never leak a misleading
// code; nil maps to the empty string.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage extracts the client-safe message from err. Internal and
// unrecognized errors get a generic message so details of the failure
// stay in the logs.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != EINTERNAL {
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp extracts the failing operation from err, if recorded.
func ErrorOp(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Constructors for the common cases.

func NotFound(op, resource, id string) *Error {
	return Errorf(ENOTFOUND, op, "%s with ID %q not found", resource, id)
}

func Invalid(op, message string) *Error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

func Unauthorized(op, message string) *Error {
	return &Error{Code: EUNAUTHORIZED, Op: op, Message: message}
}

func Forbidden(op, message string) *Error {
	return &Error{Code: EFORBIDDEN, Op: op, Message: message}
}

func Conflict(op, message string) *Error {
	return &Error{Code: ECONFLICT, Op: op, Message: message}
}

func Gone(op, message string) *Error {
	return &Error{Code: EGONE, Op: op, Message: message}
}

// Internal wraps err for failures the caller cannot act on.
func Internal(err error, op, message string) *Error {
	return &Error{Code: EINTERNAL, Op: op, Message: message, Err: err}
}

// QuotaExceeded reports a request that would pass the caller's resolved
// entitlement. Handlers map it to an upgrade prompt.
func QuotaExceeded(op string, resource string, used, limit int) *Error {
	return Errorf(EQUOTA, op, "%s limit reached (%d of %d used)", resource, used, limit)
}

// SeatLimitExceeded reports an invitation acceptance that would push a
// department past its purchased seats.
func SeatLimitExceeded(op string, maxSeats int) *Error {
	return Errorf(ESEATLIMIT, op, "department has no seats remaining (limit %d)", maxSeats)
}
