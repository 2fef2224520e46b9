package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidSubmission = errors.New("invalid submission")

	ErrTransport         = errors.New("transport error")
	ErrUnknownPipeline   = errors.New("unknown pipeline")
	ErrMissingInput      = errors.New("missing input")
	ErrGenerationFailure = errors.New("generation failure")
	ErrValidationFailure = errors.New("validation failure")
)

// TaskError is a task-local failure. It matches its Kind with errors.Is and
// unwraps to the underlying cause.
type TaskError struct {
	Kind    error
	Message string
	Cause   error
}

func NewTaskError(kind error, message string, cause error) *TaskError {
	return &TaskError{Kind: kind, Message: message, Cause: cause}
}

func (e *TaskError) Error() string {
	kind := "task error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", kind, e.Cause)
	default:
		return kind
	}
}

func (e *TaskError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// ErrorKind maps an error to the name carried in failed submissions.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrUnknownPipeline):
		return "unknown_pipeline"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, ErrValidationFailure):
		return "validation_failure"
	default:
		return "generation_failure"
	}
}
