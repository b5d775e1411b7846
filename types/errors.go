package types

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

// Error is the typed failure every rejected call returns
type Error struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, message string, httpStatus int) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: httpStatus}
}

// Wrap copies a sentinel, replacing the message detail and attaching a cause
func Wrap(sentinel *Error, cause error, format string, args ...interface{}) *Error {
	msg := sentinel.Message
	if format != "" {
		msg = fmt.Sprintf("%s: %s", sentinel.Message, fmt.Sprintf(format, args...))
	}
	return &Error{
		Kind:       sentinel.Kind,
		Message:    msg,
		HTTPStatus: sentinel.HTTPStatus,
		Cause:      cause,
	}
}

// Errorf is Wrap without a cause
func Errorf(sentinel *Error, format string, args ...interface{}) *Error {
	return Wrap(sentinel, nil, format, args...)
}

// AsError converts anything into a typed error, unknown errors become Internal
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ErrInternal, err, "")
}

var (
	ErrInvalidAmount         = newError("InvalidAmount", "amount outside allowed range", http.StatusBadRequest)
	ErrChainUnsupported      = newError("ChainUnsupported", "chain is not on the allow-list", http.StatusBadRequest)
	ErrMappingExists         = newError("MappingExists", "active mapping already exists", http.StatusConflict)
	ErrMappingInactive       = newError("MappingInactive", "no active mapping for token and chain", http.StatusBadRequest)
	ErrSingleOpLimitExceeded = newError("SingleOpLimitExceeded", "amount exceeds single operation limit", http.StatusBadRequest)
	ErrDailyLimitExceeded    = newError("DailyLimitExceeded", "amount exceeds remaining daily limit", http.StatusBadRequest)
	ErrOperationNotPending   = newError("OperationNotPending", "operation is already resolved", http.StatusConflict)
	ErrOperationNotFound     = newError("OperationNotFound", "operation not found", http.StatusNotFound)
	ErrOperationExpired      = newError("OperationExpired", "operation is past the completion window", http.StatusConflict)
	ErrInvalidProof          = newError("InvalidProof", "proof verification failed", http.StatusBadRequest)
	ErrAlreadyProcessed      = newError("AlreadyProcessed", "message already processed", http.StatusConflict)
	ErrNoServiceAvailable    = newError("NoServiceAvailable", "no bridge service available for chain", http.StatusServiceUnavailable)
	ErrBridgePaused          = newError("BridgePaused", "bridge is paused", http.StatusServiceUnavailable)
	ErrUnauthorized          = newError("Unauthorized", "caller lacks required role", http.StatusForbidden)
	ErrInvalidLimits         = newError("InvalidLimits", "limits must satisfy daily >= single >= minimum", http.StatusBadRequest)
	ErrInsufficientBalance   = newError("InsufficientBalance", "custody refused the reservation", http.StatusBadRequest)
	ErrInvalidRequest        = newError("InvalidRequest", "invalid request", http.StatusBadRequest)
	ErrNotFound              = newError("NotFound", "not found", http.StatusNotFound)
	ErrInternal              = newError("Internal", "internal error", http.StatusInternalServerError)
)
