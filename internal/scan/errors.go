package scan

import (
	"errors"
	"fmt"
)

// Error is a failure of a raw scan.
//
// Configuration and lock errors are fatal and reported once, at open time.
// Corrupt rows are reported by a RawScan for a single row; the cursor skips
// the row and keeps going.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Relation names the relation being scanned.
	Relation string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes scan errors.
type ErrorCode string

const (
	// ErrCodeConfiguration: the relation does not exist, or the declared
	// output type is not a row type or does not match the relation.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeLockAcquisition: the share lock could not be obtained.
	ErrCodeLockAcquisition ErrorCode = "LOCK_ACQUISITION"

	// ErrCodeCorruptRow: a tuple header could not be decoded.
	ErrCodeCorruptRow ErrorCode = "CORRUPT_ROW"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Relation != "" {
		msg += fmt.Sprintf(" (relation=%s)", e.Relation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsLockError reports whether err is a lock acquisition failure.
func IsLockError(err error) bool {
	return hasCode(err, ErrCodeLockAcquisition)
}

// IsCorruptRow reports whether err marks a single undecodable row.
func IsCorruptRow(err error) bool {
	return hasCode(err, ErrCodeCorruptRow)
}

// NewConfigurationError creates a configuration error for relation.
func NewConfigurationError(relation, message string, err error) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message, Relation: relation, Err: err}
}

// NewLockError creates a lock acquisition error for relation.
func NewLockError(relation string, err error) *Error {
	return &Error{Code: ErrCodeLockAcquisition, Message: "could not acquire share lock", Relation: relation, Err: err}
}

// NewCorruptRowError creates a corrupt row error for relation.
func NewCorruptRowError(relation string, err error) *Error {
	return &Error{Code: ErrCodeCorruptRow, Message: "undecodable tuple skipped", Relation: relation, Err: err}
}
