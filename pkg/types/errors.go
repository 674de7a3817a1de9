package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure into one of the stable categories
// clients are allowed to branch on. The string values are part of the
// tool surface contract and must not change.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindEmbedding    ErrorKind = "embedding"
	KindIndex        ErrorKind = "index"
	KindStorage      ErrorKind = "storage"
	KindAccessDenied ErrorKind = "access_denied"
)

// Error is the domain error type. It carries a stable kind, a human
// readable message and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying the same call may succeed.
// Infrastructure failures (embedding, index, storage) are retryable;
// validation and access failures are not. The store itself never
// retries; this is a signal for the caller.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindEmbedding, KindIndex, KindStorage:
		return true
	default:
		return false
	}
}

// ValidationError reports malformed input.
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// EmbeddingError wraps a failure of the embedding provider.
func EmbeddingError(msg string, cause error) *Error {
	return &Error{Kind: KindEmbedding, Message: msg, Cause: cause}
}

// IndexError wraps a failure of the vector index.
func IndexError(msg string, cause error) *Error {
	return &Error{Kind: KindIndex, Message: msg, Cause: cause}
}

// StorageError wraps a failure of the metadata store.
func StorageError(msg string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Cause: cause}
}

// AccessDenied reports a policy denial. The message intentionally never
// names another tenant's data.
func AccessDenied(format string, args ...any) *Error {
	return &Error{Kind: KindAccessDenied, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable domain error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// ErrNotFound is returned when a requested resource does not exist or
// is not visible to the caller.
var ErrNotFound = errors.New("not found")
