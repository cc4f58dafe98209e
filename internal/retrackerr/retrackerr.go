// Package retrackerr defines the error taxonomy of spec.md §7: a
// small set of kinds that drive retry/notification decisions, each
// wrapping a root cause via github.com/pkg/errors so stack traces and
// errors.Is/As keep working end to end.
package retrackerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds from spec.md §7.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindScraperClient  Kind = "scraper_client"
	KindScraperServer  Kind = "scraper_server"
	KindTargetClient   Kind = "target_client"
	KindTargetServer   Kind = "target_server"
	KindScriptError    Kind = "script_error"
	KindTransient      Kind = "transient"
)

// Error is a taxonomy-tagged error carrying a human-readable message
// and the wrapped root cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		// The cause already starts with Message (errors.New(Message) or
		// errors.Wrap(root, Message)), so it is the full text.
		return e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the root cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs a tagged error with no underlying root cause; its
// Unwrap target is a stack-carrying error with the same message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.New(message)}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Message: msg, cause: errors.New(msg)}
}

// Wrap tags cause with kind, preserving it as the Unwrap target.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Message: msg, cause: errors.Wrap(cause, msg)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retriable reports whether a scheduled job may retry an error of
// this kind when a retry strategy is configured (§7 item 7: Transient
// errors are "retriable by the scheduler only if a retry strategy
// applies" — every other kind that reaches a Run job is likewise
// eligible, since the Run job's retry decision is keyed on whether a
// strategy is configured, not on the kind itself; NotFound is the one
// kind that always means "remove self" regardless of a strategy).
func Retriable(err error) bool {
	return KindOf(err) != KindNotFound
}
