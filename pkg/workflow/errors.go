package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrInvalidAnswer = fmt.Errorf("%w: invalid answer", ErrValidation)
	ErrConflict      = errors.New("conflict")
	ErrStorage       = errors.New("storage error")
)

// InvalidAnswerError reports an answer that does not satisfy its question's
// type contract. For CheckBox answers InvalidIDs lists every rejected option.
type InvalidAnswerError struct {
	QuestionID int64
	InvalidIDs []int64
	Reason     string
}

func (e *InvalidAnswerError) Error() string {
	if len(e.InvalidIDs) > 0 {
		ids := make([]string, len(e.InvalidIDs))
		for i, id := range e.InvalidIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		return fmt.Sprintf("invalid answer for question %d: invalid option ids [%s]", e.QuestionID, strings.Join(ids, ", "))
	}
	return fmt.Sprintf("invalid answer for question %d: %s", e.QuestionID, e.Reason)
}

func (e *InvalidAnswerError) Unwrap() error { return ErrInvalidAnswer }

// storageErr tags a driver error as a storage failure while keeping the
// original error reachable for errors.As.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
