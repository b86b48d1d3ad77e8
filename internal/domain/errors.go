package domain

import "errors"

var (
	// ErrUnsupportedFormat: the attachment is not an image or could not be read.
	ErrUnsupportedFormat = errors.New("unsupported attachment format")

	// ErrProvider matches every *ProviderError.
	ErrProvider = errors.New("tutor provider failure")

	ErrAwaitingReply   = errors.New("session is awaiting a reply")
	ErrEmptyMessage    = errors.New("message needs text or an image")
	ErrUnknownSubject  = errors.New("unknown subject")
	ErrSessionNotFound = errors.New("session not found")
)

// ProviderError is any failure of the external language model: network,
// auth, quota, safety block or a malformed response. Error() stays generic,
// the cause is kept for logs.
type ProviderError struct {
	Op    string
	Cause error
}

func (e *ProviderError) Error() string {
	return ErrProvider.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Detail is the operator-facing description, including the cause.
func (e *ProviderError) Detail() string {
	if e.Cause == nil {
		return e.Op
	}
	return e.Op + ": " + e.Cause.Error()
}
