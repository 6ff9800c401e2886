package pipeline

import (
	"errors"
	"fmt"
)

// ValidationError marks input the pipeline can never process. It is not
// retryable; retrying the same document yields the same failure.
type ValidationError struct {
	error
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{fmt.Errorf(format, args...)}
}

// TransientError marks a failure expected to clear on its own, such as a
// busy collaborator.
type TransientError struct {
	error
}

func NewTransientError(op string, err error) *TransientError {
	return &TransientError{fmt.Errorf("%s: %w", op, err)}
}

// InfraError marks a failing dependency (object storage, OCR vendor, AI
// service). Retryable, the dependency may recover.
type InfraError struct {
	error
}

func NewInfraError(op string, err error) *InfraError {
	return &InfraError{fmt.Errorf("%s: %w", op, err)}
}

// FatalError marks a broken pipeline state, such as a stage running before
// its prerequisite output exists.
type FatalError struct {
	error
}

func NewFatalError(format string, args ...any) *FatalError {
	return &FatalError{fmt.Errorf(format, args...)}
}

// Retryable reports whether the failure may clear on a later attempt.
// Validation and fatal errors are final; everything else gets the retry
// budget.
func Retryable(err error) bool {
	var validation *ValidationError
	var fatal *FatalError
	if errors.As(err, &validation) || errors.As(err, &fatal) {
		return false
	}
	return true
}
