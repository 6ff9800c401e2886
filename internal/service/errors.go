package service

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/disputeflow/verifier/internal/ratelimit"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrDocumentNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "document")
}

func NewErrDeadLetterNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "dead letter entry")
}

// ErrRateLimited carries the admission decision so the transport layer
// can render the window headers and a Retry-After.
type ErrRateLimited struct {
	error
	Decision *ratelimit.Decision
}

func NewErrRateLimited(decision *ratelimit.Decision) *ErrRateLimited {
	return &ErrRateLimited{
		error:    fmt.Errorf("rate limit exceeded for windows %v", decision.ExceededWindows),
		Decision: decision,
	}
}

type ErrApiKeyRejected struct {
	error
}

func NewErrUnknownApiKey(keyID string) *ErrApiKeyRejected {
	return &ErrApiKeyRejected{fmt.Errorf("api key %q is not registered", keyID)}
}

func NewErrApiKeyDisabled(keyID string) *ErrApiKeyRejected {
	return &ErrApiKeyRejected{fmt.Errorf("api key %q is disabled", keyID)}
}

type ErrInvalidSubmission struct {
	error
}

func NewErrInvalidSubmission(format string, args ...any) *ErrInvalidSubmission {
	return &ErrInvalidSubmission{fmt.Errorf(format, args...)}
}

// ErrDocumentFinished rejects cancellation of a document that already
// reached a terminal state.
type ErrDocumentFinished struct {
	error
	Status string
}

func NewErrDocumentFinished(id uuid.UUID, status string) *ErrDocumentFinished {
	return &ErrDocumentFinished{
		error:  fmt.Errorf("document %s already finished with status %s", id, status),
		Status: status,
	}
}

type ErrDeadLetterNotRetryable struct {
	error
}

func NewErrDeadLetterNotRetryable(id uuid.UUID) *ErrDeadLetterNotRetryable {
	return &ErrDeadLetterNotRetryable{fmt.Errorf("dead letter entry %s is not retryable", id)}
}

type ErrDeadLetterAlreadyRequeued struct {
	error
}

func NewErrDeadLetterAlreadyRequeued(id uuid.UUID) *ErrDeadLetterAlreadyRequeued {
	return &ErrDeadLetterAlreadyRequeued{fmt.Errorf("dead letter entry %s was already requeued", id)}
}
