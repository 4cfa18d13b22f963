package paper

import (
	"errors"
	"fmt"
)

var (
	ErrMissingID    = errors.New("paper: missing id")
	ErrMissingTitle = errors.New("paper: missing title")
)

// ValidationError rejects a single record. ID is 0 when the record had none.
type ValidationError struct {
	ID  int64
	Err error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "paper: invalid record"
	}
	if e.ID != 0 {
		return fmt.Sprintf("paper %d: %v", e.ID, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
