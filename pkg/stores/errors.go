package stores

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a storage failure.
type ErrorKind string

const (
	// KindConnection means the database could not be opened or migrated.
	KindConnection ErrorKind = "connection"

	// KindRead means a read statement failed.
	KindRead ErrorKind = "read"

	// KindWrite means a write statement or transaction failed.
	KindWrite ErrorKind = "write"
)

// StoreError is returned by every store operation that fails inside the engine.
type StoreError struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Op is the store operation that failed, e.g. "save" or "trim".
	Op string

	// Err is the underlying driver or migration error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("history %s error (op=%s)", e.Kind, e.Op)
	}
	return fmt.Sprintf("history %s error (op=%s): %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches any StoreError of the same kind, so errors.Is(err, ErrRead) works
// regardless of the operation.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrConnection = &StoreError{Kind: KindConnection}
	ErrRead       = &StoreError{Kind: KindRead}
	ErrWrite      = &StoreError{Kind: KindWrite}

	// ErrInvalidItem is returned by Save for items that fail validation.
	ErrInvalidItem = errors.New("invalid history item")

	// ErrInvalidLimit is returned by Trim for a negative limit.
	ErrInvalidLimit = errors.New("invalid trim limit")
)

func connectionError(op string, err error) error {
	return &StoreError{Kind: KindConnection, Op: op, Err: err}
}

func readError(op string, err error) error {
	return &StoreError{Kind: KindRead, Op: op, Err: err}
}

func writeError(op string, err error) error {
	return &StoreError{Kind: KindWrite, Op: op, Err: err}
}

// KindOf returns the kind of a store error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
