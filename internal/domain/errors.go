package domain

import "errors"

var (
	// ErrInvalidSchedule is returned when a manifest entry's publish time is
	// not strictly in the future. No job is created.
	ErrInvalidSchedule = errors.New("scheduled time must be in the future")

	// ErrJobNotFound is returned when a job cannot be found in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotFound is returned when a referenced remote asset or video does
	// not resolve.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a state transition lost a race: the job
	// is no longer in the expected prior state.
	ErrConflict = errors.New("job state conflict")

	// ErrInvalidState is returned when an operation is not allowed in the
	// job's current state, e.g. cancelling a job that already uploaded.
	ErrInvalidState = errors.New("operation not allowed in current job state")

	// ErrUnauthorized is returned when channel credentials are invalid after
	// a refresh attempt. Fatal for the job.
	ErrUnauthorized = errors.New("channel credentials rejected")

	// ErrRateLimited is returned when the remote API throttles us. Retryable
	// with backoff.
	ErrRateLimited = errors.New("rate limited by remote API")

	// ErrTransientNetwork covers network errors and timeouts. Retryable.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrInvalidRequest is returned when the platform rejects the request
	// itself, e.g. malformed metadata. Fatal, never retried.
	ErrInvalidRequest = errors.New("remote API rejected request")

	// ErrStorageFailure is returned when a durable write failed. The
	// enclosing operation must not be considered complete.
	ErrStorageFailure = errors.New("storage failure")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err belongs to a class the dispatcher's
// backoff loop should absorb.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransientNetwork) {
		return true
	}
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// Classification maps err onto the short failure class recorded in a job's
// last_error and in history failure entries. Callers only ever see this
// string, never stack-level detail.
func Classification(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSchedule):
		return "INVALID_SCHEDULE"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrJobNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrTransientNetwork):
		return "TRANSIENT_NETWORK"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrStorageFailure):
		return "STORAGE_FAILURE"
	default:
		return "INTERNAL"
	}
}
