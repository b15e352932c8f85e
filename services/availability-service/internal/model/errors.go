package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed names, days, times and intervals.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersist marks a mutation rejected because its state could not be saved.
	ErrPersist = errors.New("persist failed")
)

type invalidInputError struct {
	msg string
}

func (e *invalidInputError) Error() string { return e.msg }

func (e *invalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// InvalidInput returns an error matching ErrInvalidInput whose message is
// shown to API clients as is.
func InvalidInput(format string, args ...any) error {
	return &invalidInputError{msg: fmt.Sprintf(format, args...)}
}
