package dataset

import (
	"errors"
	"fmt"
)

// ValidationError reports a notification payload that cannot become an
// Event. Rejected payloads are logged and dropped, never enqueued.
type ValidationError struct {
	// Field is the payload member at fault ("payload", "action" or "ref").
	Field string

	// Value is the offending raw value, truncated for logging.
	Value string

	// Message describes the problem.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid update event: %s: %s (value=%s)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("invalid update event: %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
