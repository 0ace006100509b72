package jobs

import "errors"

var (
	ErrNotFound     = errors.New("job not found")
	ErrNotRetryable = errors.New("job is not retryable")
	ErrNotOwner     = errors.New("job belongs to a different identity")
)

// Structured failure reasons surfaced to callers; raw provider error text
// never crosses the API boundary.
const (
	ReasonProviderError = "provider_error"
	ReasonStorageError  = "storage_error"
	ReasonInternal      = "internal_error"
)
