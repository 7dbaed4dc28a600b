// Package apperr defines the typed error taxonomy shared by every component
// of the pricing engine. Callers should use errors.As to recover a *Error
// and inspect its Kind rather than matching on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for both HTTP status mapping and retry decisions.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuthentication    Kind = "authentication"
	KindAuthorization     Kind = "authorization"
	KindRateLimit         Kind = "rate_limit"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindTransientUpstream Kind = "transient_upstream"
	KindPermanentUpstream Kind = "permanent_upstream"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// Error is the concrete type carried through the system. Wrap underlying
// causes with Wrap so the chain stays inspectable with errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, target) report true when target is an *Error
// with the same Kind, whatever its message.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func new(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error        { return new(KindValidation, format, args...) }
func Authentication(format string, args ...any) *Error    { return new(KindAuthentication, format, args...) }
func Authorization(format string, args ...any) *Error      { return new(KindAuthorization, format, args...) }
func RateLimit(format string, args ...any) *Error          { return new(KindRateLimit, format, args...) }
func NotFound(format string, args ...any) *Error           { return new(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error           { return new(KindConflict, format, args...) }
func TransientUpstream(format string, args ...any) *Error  { return new(KindTransientUpstream, format, args...) }
func PermanentUpstream(format string, args ...any) *Error  { return new(KindPermanentUpstream, format, args...) }
func QuotaExceeded(format string, args ...any) *Error      { return new(KindQuotaExceeded, format, args...) }
func Timeout(format string, args ...any) *Error            { return new(KindTimeout, format, args...) }
func Internal(format string, args ...any) *Error           { return new(KindInternal, format, args...) }

// Wrap attaches a Kind and message to an existing error, preserving it as
// the Cause so errors.Unwrap keeps working.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err was
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether err's Kind is one a retry can cure
// (transient_upstream, timeout). The worker pool does not consult it: a
// failed job is retried until max_attempts whatever its Kind.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientUpstream, KindTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code the server surface should
// return for it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransientUpstream, KindTimeout:
		return http.StatusServiceUnavailable
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindPermanentUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
