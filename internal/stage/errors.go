package stage

import (
	"errors"
	"fmt"
)

// Code categorizes stage failures.
type Code string

const (
	// CodeInvalidArgument indicates an empty path or query was supplied.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeExport indicates the exporter process failed.
	CodeExport Code = "EXPORT_FAILED"

	// CodeEmptyResult indicates the export query matched no entities.
	CodeEmptyResult Code = "EMPTY_RESULT"

	// CodeBuild indicates the tile builder failed to generate an archive.
	CodeBuild Code = "BUILD_FAILED"

	// CodeFilter indicates the tile builder failed to filter an archive.
	CodeFilter Code = "FILTER_FAILED"

	// CodeMerge indicates the tile builder failed to merge archives.
	CodeMerge Code = "MERGE_FAILED"
)

// Error reports a failed stage invocation.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Path is the output file the stage was producing, if any.
	Path string

	// ExitCode is the process exit status, or -1 when the process did not
	// run to completion.
	ExitCode int

	// Stderr holds the tail of the tool's standard error.
	Stderr string

	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is, or wraps, a stage *Error with the code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsEmptyResult reports whether the exporter matched zero entities.
func IsEmptyResult(err error) bool {
	return IsCode(err, CodeEmptyResult)
}

func invalidArgument(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg, ExitCode: -1}
}
