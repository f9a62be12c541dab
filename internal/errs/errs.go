// Package errs defines the error kinds shared across the reservation
// engine. These sentinel values and typed errors allow higher layers
// such as the orchestrator and HTTP handlers to distinguish between
// failure scenarios. For example, ErrAlreadyInUse indicates seat
// contention that the caller may retry with different seats, while
// an ArgumentError signals invalid input that no retry will fix.
package errs

import (
	"errors"
	"fmt"
)

// ErrAlreadyInUse is returned when a seat or inventory unit is
// already held by another transaction. Handlers should translate
// this into an HTTP 409 response.
var ErrAlreadyInUse = errors.New("already in use")

// ErrRateLimitExceeded is returned when a rate-limited ticket type
// has already been reserved within the current time window.
// Handlers should translate this into an HTTP 429 response.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrServiceUnavailable is returned when an external collaborator,
// such as the numbering service, cannot produce a result. The caller
// or the task layer decides whether to retry.
var ErrServiceUnavailable = errors.New("service unavailable")

// ErrConflict is returned on benign duplicate-key races, such as two
// concurrent Start calls deriving the same transaction number. The
// caller may re-fetch the existing record and proceed.
var ErrConflict = errors.New("conflict")

// ArgumentError reports invalid input: a missing required field, a
// cancelled or out-of-window event, or a membership outside its
// validity period. Argument errors are surfaced to the caller
// immediately and are never retried.
type ArgumentError struct {
	Name   string // the offending argument or field
	Reason string // why it was rejected
}

func (e *ArgumentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid argument %q", e.Name)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Name, e.Reason)
}

// NewArgument builds an ArgumentError for a named argument.
func NewArgument(name, reason string) error {
	return &ArgumentError{Name: name, Reason: reason}
}

// NewArgumentNull builds an ArgumentError for a required argument
// that was not supplied.
func NewArgumentNull(name string) error {
	return &ArgumentError{Name: name, Reason: "required"}
}

// IsArgument reports whether err is an ArgumentError anywhere in its
// chain.
func IsArgument(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

// NotFoundError reports that a referenced entity (offer, ticket type,
// membership, transaction) does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// NewNotFound builds a NotFoundError for the given entity and id.
func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is a NotFoundError anywhere in its
// chain.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
