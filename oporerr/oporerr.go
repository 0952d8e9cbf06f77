// Package oporerr defines opor's typed error kinds. MigrationError formats
// its message with github.com/samsarahq/go/oops, the teacher codebase's
// error-context library; the other kinds wrap their cause directly.
package oporerr

import (
	"errors"

	"github.com/samsarahq/go/oops"
)

// EngineError wraps anything raised by the embedded engine: statement
// prepare/execute, apply, or sync. It is propagated unchanged in meaning,
// only prefixed with "engine error: ".
type EngineError struct {
	cause error
}

func NewEngineError(cause error) *EngineError { return &EngineError{cause: cause} }
func (e *EngineError) Error() string          { return "engine error: " + e.cause.Error() }
func (e *EngineError) Unwrap() error          { return e.cause }

// QueryError wraps a live-query builder panic or returned error. It is
// captured on the result snapshot rather than propagated to subscribers.
type QueryError struct {
	cause error
}

func NewQueryError(cause error) *QueryError { return &QueryError{cause: cause} }
func (e *QueryError) Error() string          { return "query error: " + e.cause.Error() }
func (e *QueryError) Unwrap() error          { return e.cause }

// InvalidChangeset is raised by applyChangeset when the payload is not
// valid JSON, or is not an array of 8-element tuples.
type InvalidChangeset struct {
	msg string
}

func NewInvalidChangeset(msg string) *InvalidChangeset { return &InvalidChangeset{msg: msg} }
func (e *InvalidChangeset) Error() string              { return e.msg }

// MigrationError wraps a failure applying a migration; the migration that
// failed is never recorded as applied.
type MigrationError struct {
	MigrationID string
	cause       error
}

func NewMigrationError(id string, cause error) *MigrationError {
	return &MigrationError{MigrationID: id, cause: cause}
}
func (e *MigrationError) Error() string {
	return oops.Wrapf(e.cause, "migration %s failed", e.MigrationID).Error()
}
func (e *MigrationError) Unwrap() error { return e.cause }

// UsageError signals a caller mistake: an absent/invalid engine handle at
// construction, or a nested live-query registration.
type UsageError struct {
	msg string
}

func NewUsageError(msg string) *UsageError { return &UsageError{msg: msg} }
func (e *UsageError) Error() string        { return e.msg }

// As reports whether err (or something it wraps) is a *T, returning the
// concrete value for convenient discrimination at call sites.
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
