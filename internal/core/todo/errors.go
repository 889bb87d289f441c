package todo

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an item does not exist in the collection.
var ErrNotFound = errors.New("todo item not found")

// ValidationError reports malformed input to a public operation. It is
// returned before any I/O is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
