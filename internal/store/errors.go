package store

import (
	"errors"
	"fmt"
)

// ErrStorage marks every failure that originates in the record store.
var ErrStorage = errors.New("storage error")

// Error wraps a driver error with the store operation that produced it.
// errors.Is(err, ErrStorage) holds for every *Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrStorage
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
