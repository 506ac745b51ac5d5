package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so handlers can pick a status code without
// string matching. Ledger-mutating paths must never swallow these.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInsufficientCredits Kind = "INSUFFICIENT_CREDITS"
	KindNotFound            Kind = "NOT_FOUND"
	KindExpired             Kind = "REWARD_EXPIRED"
	KindOutOfStock          Kind = "REWARD_UNAVAILABLE"
	KindUserLimit           Kind = "USER_LIMIT_EXCEEDED"
	KindConflict            Kind = "CONFLICT"
	KindInternal            Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two apperr values by kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusCode maps an error chain to the HTTP status the API responds with.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired, KindOutOfStock:
		return http.StatusGone
	case KindUserLimit, KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
