package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies a check-in or ledger failure. Every validation failure maps
// to exactly one kind so callers can react without string matching.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindTokenInvalid     Kind = "token_expired_or_invalid"
	KindSessionInactive  Kind = "session_inactive"
	KindDuplicateCheckIn Kind = "duplicate_check_in"
	KindDuplicateDevice  Kind = "duplicate_device"
	KindLocationRequired Kind = "location_required"
	KindOutOfRange       Kind = "out_of_range"
	KindNotRegistered    Kind = "not_registered"
	KindNameRequired     Kind = "name_required"
	KindConflict         Kind = "conflict"
	KindNotFound         Kind = "not_found"
)

// Error is a user-facing failure with a machine-readable kind. OutOfRange
// errors additionally carry the computed distance and the configured radius.
type Error struct {
	Kind     Kind
	Message  string
	Distance float64
	Radius   float64
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, or "" for unexpected failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
