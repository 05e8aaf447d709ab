package config

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
)

// Error reports an invalid configuration value.
type Error struct {
	// Key is the environment variable or tasks file path at fault.
	Key string

	// Message is a human-readable description.
	Message string

	// Pos is the tasks file position, if known.
	Pos token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// IsConfigError returns true if err is a configuration error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
