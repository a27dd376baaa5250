package inferhub

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrInvalidRequest      = errors.New("inferhub: invalid request")
	ErrQuotaExceeded       = errors.New("inferhub: quota exceeded")
	ErrContextNotFound     = errors.New("inferhub: context set not found")
	ErrNotFound            = errors.New("inferhub: not found")
	ErrUnsupportedModel    = errors.New("inferhub: unsupported model")
	ErrModelConflict       = errors.New("inferhub: model claimed by more than one provider")
	ErrRateLimited         = errors.New("inferhub: rate limited by provider")
	ErrAuthFailed          = errors.New("inferhub: authentication failed")
	ErrProviderUnavailable = errors.New("inferhub: provider unavailable")
	ErrMalformedResponse   = errors.New("inferhub: malformed provider response")
)

// QuotaError reports a rejected admission. The counter was not incremented.
type QuotaError struct {
	Model string
	Used  int64
	Limit int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("inferhub: quota exceeded for model %q (%d/%d)", e.Model, e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// ProviderError is the failed outcome of a dispatch.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("inferhub: provider=%s model=%s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inferhub: invalid request: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// IsClientError returns true if the error was caused by the caller's input
// rather than by an upstream or storage failure.
func IsClientError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return false
	}
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnsupportedModel) ||
		errors.Is(err, ErrContextNotFound) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrQuotaExceeded)
}
