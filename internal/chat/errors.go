package chat

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMessageNotFound is returned when a completion names a message that is
// not a user message of the conversation.
var ErrMessageNotFound = errors.New("message not found")

// ValidationError reports a malformed inbound request. It is always returned
// before any store mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
