package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("meeting not found")
	ErrPreconditionFailed = errors.New("meeting status precondition failed")
	ErrMissingTranscript  = errors.New("meeting has no transcript")
	ErrNoTasksToSync      = errors.New("no extracted tasks to sync")
	ErrThrottleExhausted  = errors.New("provider throttling retries exhausted")
	ErrInvalidResponse    = errors.New("invalid provider response")
)

type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

// ProviderErrorKind classifies failures from external providers so callers
// can decide between retry, deferred re-delivery and terminal failure.
type ProviderErrorKind int

const (
	// ProviderThrottled is a rate-limit rejection, eligible for deferred retry.
	ProviderThrottled ProviderErrorKind = iota
	// ProviderRejected is a permission or validation rejection, never retried.
	ProviderRejected
	// ProviderUnavailable is a transient failure, retried within the
	// immediate-attempt budget only.
	ProviderUnavailable
	// ProviderTimeout is an expired call deadline, treated as transient.
	ProviderTimeout
)

type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	kind := "unavailable"
	switch e.Kind {
	case ProviderThrottled:
		kind = "throttled"
	case ProviderRejected:
		kind = "rejected"
	case ProviderTimeout:
		kind = "timeout"
	}
	return fmt.Sprintf("%s provider %s: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewThrottled(provider string, err error) error {
	return &ProviderError{Kind: ProviderThrottled, Provider: provider, Err: err}
}

func NewRejected(provider string, err error) error {
	return &ProviderError{Kind: ProviderRejected, Provider: provider, Err: err}
}

func NewUnavailable(provider string, err error) error {
	return &ProviderError{Kind: ProviderUnavailable, Provider: provider, Err: err}
}

func NewTimeout(provider string, err error) error {
	return &ProviderError{Kind: ProviderTimeout, Provider: provider, Err: err}
}

func IsThrottled(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderThrottled
}

// IsFatal reports whether the error must not be retried at all.
func IsFatal(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ProviderRejected
	}
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether the error may be retried within the
// immediate-attempt budget.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind != ProviderRejected
	}
	return false
}
