package engine

import (
	"fmt"
	"net/http"
)

// Kind classifies engine failures.  Handlers translate a kind into an HTTP
// status; the engine itself never touches HTTP.
type Kind string

const (
	// KindValidation covers malformed or missing input.
	KindValidation Kind = "validation"
	// KindNotFound covers unknown codes and orders.
	KindNotFound Kind = "not_found"
	// KindConflict covers already-redeemed codes, wrong channels and
	// reservation mismatches.  Never retried.
	KindConflict Kind = "conflict"
	// KindCapacity means no eligible account has a free seat.
	KindCapacity Kind = "capacity_exhausted"
	// KindGateway covers non-2xx or malformed gateway responses.
	KindGateway Kind = "upstream_gateway"
	// KindMismatch marks an amount mismatch between the recorded order and
	// the gateway report.  Fails closed; requires manual review.
	KindMismatch Kind = "reconciliation_mismatch"
)

// Error is the engine's structured failure value.  Message is safe to show
// to callers; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to the status handlers should respond with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusForbidden
	case KindCapacity:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	case KindMismatch:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errf builds an *Error with a formatted message.
func errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrap attaches a cause to a kind/message pair.
func wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsEngineError extracts an *Error from err, returning nil when err is not
// one.  Handlers use it to decide between a structured response and a bare
// 500.
func AsEngineError(err error) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}
