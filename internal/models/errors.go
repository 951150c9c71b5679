package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Business rule outcomes. They are returned wrapped in a BusinessError.
var (
	ErrValidation       = errors.New("validation failed")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrStallUnavailable = errors.New("stall unavailable")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDuplicateToken   = errors.New("reservation token already exists")
	ErrLockNotAcquired  = errors.New("lock not acquired")
)

// BusinessError carries a caller facing message for one of the sentinels above.
// Code optionally overrides the machine readable error code.
type BusinessError struct {
	Kind    error
	Code    string
	Message string
	StallID int64
}

func (e *BusinessError) Error() string {
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Kind
}

// NewBusinessError builds a BusinessError of the given kind
func NewBusinessError(kind error, format string, args ...interface{}) *BusinessError {
	return &BusinessError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StallUnavailable names the stall that blocked a unit of work
func StallUnavailable(stallID int64, format string, args ...interface{}) *BusinessError {
	e := NewBusinessError(ErrStallUnavailable, format, args...)
	e.StallID = stallID
	return e
}

// WithCode sets the machine readable error code
func (e *BusinessError) WithCode(code string) *BusinessError {
	e.Code = code
	return e
}

// NotFound is a shorthand for a NotFound business error
func NotFound(format string, args ...interface{}) *BusinessError {
	return NewBusinessError(ErrNotFound, format, args...)
}
