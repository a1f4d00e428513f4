package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller at the service boundary.
type Kind int

const (
	// KindNotFound marks a missing reservation, unit or booking.
	KindNotFound Kind = iota + 1
	// KindConflict marks a stale version, a busy lock or a reused
	// idempotency key whose payload differs from the original request.
	KindConflict
	// KindInvalidState marks an operation against an entity whose
	// lifecycle state forbids it, e.g. confirming an expired reservation.
	KindInvalidState
	// KindExternalFailure marks a payment decline or gateway error.
	KindExternalFailure
	// KindInternal marks a storage or infrastructure failure.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindExternalFailure:
		return "external_failure"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error without an underlying cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an existing error.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the classification of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
