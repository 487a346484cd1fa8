package errors

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// Strongly typed error for non-retriable failures. Backoff loops in the
// clients package stop immediately when they see one of these.
type unretriableError struct{ error }

// Unretriable returns an error that will be treated as final by retry loops.
// It also satisfies errors.As against *backoff.PermanentError so it
// short-circuits backoff.Retry directly.
func Unretriable(err error) error {
	return unretriableError{backoff.Permanent(err)}
}

func (ue unretriableError) Unwrap() error {
	return ue.error
}

// IsUnretriable returns whether the given error is known not to be worth
// retrying.
func IsUnretriable(err error) bool {
	permErr := &backoff.PermanentError{}
	return errors.As(err, &unretriableError{}) || errors.As(err, &permErr)
}

// ObjectNotFoundError means the requested object does not exist in the
// backing store. Distinct from transient store failures, which are retried.
type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string { return e.msg }

func (e ObjectNotFoundError) Unwrap() error { return e.cause }

// NewObjectNotFoundError creates an unretriable object-not-found error. It is
// deliberately not a backoff.PermanentError so callers can distinguish
// "missing" from "gave up".
func NewObjectNotFoundError(msg string, cause error) error {
	msg = "object not found: " + msg
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause)
	}
	return unretriableError{ObjectNotFoundError{msg: msg, cause: cause}}
}

func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}
