package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a definitive 4xx answer. The sequence strategy treats it as a control signal.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks a failure that survived the retry budget.
	ErrTransient = errors.New("transient failure")
	// ErrDisallowed is returned when robots.txt forbids the URL.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrBodyTooLarge is returned when a response exceeds the configured cap.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrNotInteractable is returned when a reveal control never became visible.
	ErrNotInteractable = errors.New("element not interactable")
	// ErrRevealBlocked is returned when another element intercepts a native click.
	ErrRevealBlocked = errors.New("click intercepted")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Is lets callers match status errors against the taxonomy sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode >= 400 && e.StatusCode < 500 && !retryableStatus(e.StatusCode)
	case ErrTransient:
		return retryableStatus(e.StatusCode)
	}
	return false
}

// TransientError wraps the last failure after the retry budget ran out.
type TransientError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// IsNotFound reports whether err is a definitive not-found answer.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTransient reports whether err is a retried-out transient failure.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
