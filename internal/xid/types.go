package xid

import (
	"fmt"
	"strconv"
)

// TransactionID identifies a unit of work in the host engine.
type TransactionID uint32

// Special transaction ids.
const (
	Invalid     TransactionID = 0
	Bootstrap   TransactionID = 1
	Frozen      TransactionID = 2
	FirstNormal TransactionID = 3
)

// MaxReference is the largest reference id a session may configure.
const MaxReference TransactionID = 1<<31 - 1

// IsNormal reports whether id is an ordinary, comparable id that can be
// resolved through a commit log.
func (id TransactionID) IsNormal() bool {
	return id >= FirstNormal
}

// IsValid reports whether id is set.
func (id TransactionID) IsValid() bool {
	return id != Invalid
}

func (id TransactionID) String() string {
	switch id {
	case Invalid:
		return "invalid"
	case Bootstrap:
		return "bootstrap"
	case Frozen:
		return "frozen"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// Parse parses a decimal transaction id.
func Parse(s string) (TransactionID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Invalid, fmt.Errorf("parse transaction id %q: %w", s, err)
	}
	return TransactionID(v), nil
}

// Status is the commit state of a transaction as reported by a commit log.
type Status uint8

const (
	InProgress Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in progress"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// IsFinal reports whether the status can no longer change.
func (s Status) IsFinal() bool {
	return s == Committed || s == Aborted
}

// ParseStatus accepts the names produced by Status.String as well as the
// short forms used in fixture files.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "committed", "commit", "c":
		return Committed, nil
	case "aborted", "abort", "a":
		return Aborted, nil
	case "in progress", "in_progress", "running", "p":
		return InProgress, nil
	}
	return InProgress, fmt.Errorf("unknown transaction status %q", s)
}
