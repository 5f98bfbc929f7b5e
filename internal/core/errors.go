package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat reports a malformed column letter, address or input field.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrNotFound reports that a header, value or transaction is absent.
	ErrNotFound = errors.New("not found")
	// ErrNoPreviousColumn reports a match in column A.
	ErrNoPreviousColumn = errors.New("no previous column")
	// ErrStoreFailure reports that a Grid Store call failed.
	ErrStoreFailure = errors.New("store failure")
	// ErrConflict reports that the append target kept changing under us.
	ErrConflict = errors.New("conflict")

	ErrHeaderNotFound = fmt.Errorf("header %w", ErrNotFound)
	ErrValueNotFound  = fmt.Errorf("value %w", ErrNotFound)
	ErrNoTransactions = fmt.Errorf("transactions %w", ErrNotFound)

	ErrInvalidDay   = fmt.Errorf("%w: day must be between 1 and 31", ErrInvalidFormat)
	ErrNoteTooLong  = fmt.Errorf("%w: note too long (max %d characters)", ErrInvalidFormat, MaxNoteLength)
	ErrInvalidPrice = fmt.Errorf("%w: price is not a number", ErrInvalidFormat)
)

// StoreError wraps a failed Grid Store call with the operation and sheet.
type StoreError struct {
	Op    string
	Sheet string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s on sheet %q: %v", e.Op, e.Sheet, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes every StoreError match ErrStoreFailure.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// NewStoreError wraps err, or returns nil when err is nil.
func NewStoreError(op, sheet string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Sheet: sheet, Err: err}
}
