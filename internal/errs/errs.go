// Package errs implements the tag-based error taxonomy used across the
// orchestration core: a classification of failures independent of their Go
// type, so the retry engine and DLQ can reason about retriability without
// type-switching on concrete error values.
package errs

import (
	"errors"
	"fmt"
)

// Tag classifies a failure for retry and dead-letter decisions.
type Tag string

const (
	// Transient covers connection errors and temporary unavailability.
	Transient Tag = "transient"
	// Timeout covers execution or response timeouts.
	Timeout Tag = "timeout"
	// ResourceExhausted covers capacity/quota exhaustion; retriable with
	// a longer backoff than Transient.
	ResourceExhausted Tag = "resource_exhausted"
	// InvalidInput covers malformed or unprocessable task input.
	InvalidInput Tag = "invalid_input"
	// PermissionDenied covers authorization failures.
	PermissionDenied Tag = "permission_denied"
	// NotFound covers missing referenced entities.
	NotFound Tag = "not_found"
	// DependencyFailed covers cascaded failure from a failed dependency.
	DependencyFailed Tag = "dependency_failed"
	// Internal covers unclassified internal errors.
	Internal Tag = "internal"
)

// retriable holds the default retry eligibility per tag, per spec §7.
var retriable = map[Tag]bool{
	Transient:         true,
	Timeout:           true,
	ResourceExhausted: true,
	InvalidInput:      false,
	PermissionDenied:  false,
	NotFound:          false,
	DependencyFailed:  false,
	Internal:          true,
}

// Retriable reports whether errors with this tag are retried by default,
// absent an explicit retry-on/skip-on policy override.
func (t Tag) Retriable() bool {
	r, ok := retriable[t]
	return ok && r
}

// Error wraps an underlying cause with a classification tag.
type Error struct {
	Tag Tag
	Err error
}

func New(tag Tag, msg string) *Error {
	return &Error{Tag: tag, Err: errors.New(msg)}
}

func Wrap(tag Tag, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Tag: tag, Err: err}
}

func Wrapf(tag Tag, format string, args ...interface{}) *Error {
	return &Error{Tag: tag, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Tag)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TagOf extracts the Tag from err if it (or something it wraps) is an
// *Error; otherwise it returns Internal as the default classification.
func TagOf(err error) Tag {
	var te *Error
	if errors.As(err, &te) {
		return te.Tag
	}
	return Internal
}
