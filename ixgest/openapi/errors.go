package openapi

import (
	"context"
	"fmt"

	"github.com/teranos/specix/errors"
)

// Kind is the stable tag of an ingestion failure
type Kind string

const (
	KindInvalidURL       Kind = "invalid_url"
	KindProbeFailed      Kind = "head_failed"
	KindSizeExceeded     Kind = "size_exceeded"
	KindDownloadFailed   Kind = "download_failed"
	KindValidationFailed Kind = "validation_failed"
)

// Error is the only error type returned by the pipeline stages
type Error struct {
	Kind     Kind
	Message  string
	Status   int   // Remote HTTP status, 0 when none was received
	MaxBytes int64 // Byte ceiling, set for KindSizeExceeded
	Cause    error
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

// Timeout reports whether the failure was caused by a request deadline
func (e *Error) Timeout() bool {
	return e.Cause != nil && errors.Is(e.Cause, context.DeadlineExceeded)
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func sizeExceeded(maxBytes int64) *Error {
	return &Error{
		Kind:     KindSizeExceeded,
		Message:  fmt.Sprintf("Spec exceeds allowed size (%d bytes).", maxBytes),
		MaxBytes: maxBytes,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none
func KindOf(err error) Kind {
	var ingestErr *Error
	if errors.As(err, &ingestErr) {
		return ingestErr.Kind
	}
	return ""
}

// IsKind reports whether err carries an *Error of kind k
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// AsError returns the *Error in err's chain
func AsError(err error) (*Error, bool) {
	var ingestErr *Error
	ok := errors.As(err, &ingestErr)
	return ingestErr, ok
}
