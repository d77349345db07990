package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/JaimeStill/tally/internal/validation"
)

// Errors shared by persistence, the state machine, and the aggregator.
var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
	ErrConflict       = errors.New("record modified concurrently")
	ErrInvariant      = errors.New("invariant violation")
	ErrTransient      = errors.New("transient failure")
	ErrUnavailable    = errors.New("persistence unavailable")
	ErrTemplateLocked = errors.New("template referenced by a published task")

	ErrDeadlineBeforePublish = fmt.Errorf("%w: deadline must be after publish time", ErrInvariant)
	ErrInvalidTransition     = fmt.Errorf("%w: transition not allowed", ErrInvariant)
)

// Class groups errors by how the scheduler reacts to them.
type Class int

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota
	// ClassData errors are recorded and never abort a tick.
	ClassData
	// ClassTransient errors are logged and retried on the next tick.
	ClassTransient
	// ClassInvariant errors skip and flag the offending task.
	ClassInvariant
	// ClassFatal errors abort the whole tick.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassData:
		return "data"
	case ClassTransient:
		return "transient"
	case ClassInvariant:
		return "invariant"
	case ClassFatal:
		return "fatal"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classify maps an error onto the scheduler's error taxonomy.
// Unrecognized errors are treated as transient.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrUnavailable):
		return ClassFatal
	case errors.Is(err, ErrInvariant), errors.Is(err, ErrConflict), errors.Is(err, ErrTemplateLocked),
		errors.Is(err, validation.ErrInvalidRule):
		return ClassInvariant
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate):
		return ClassData
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	return ClassTransient
}

// Transient wraps err so that Classify reports ClassTransient.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// MapHTTPStatus maps domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict), errors.Is(err, ErrTemplateLocked):
		return http.StatusConflict
	case errors.Is(err, ErrInvariant), errors.Is(err, validation.ErrInvalidRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
