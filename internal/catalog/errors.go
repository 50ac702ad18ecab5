package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a 404 from the catalog API. Callers treat it as an empty
	// subtree or an empty listing, never as a failure.
	ErrNotFound = errors.New("catalog resource not found")
	// ErrFetchFailed is returned once retries on a transient failure are exhausted.
	ErrFetchFailed = errors.New("catalog fetch failed")
	// ErrAuthFailed aborts a run: nothing can be synced without a session.
	ErrAuthFailed = errors.New("catalog authentication failed")
	// ErrMalformedResponse means an expected embedded JSON blob was missing or unparsable.
	ErrMalformedResponse = errors.New("catalog response malformed")
)

// HTTPError carries the status of a failed catalog request.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("catalog request %s: status %d", e.URL, e.StatusCode)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsFatal reports errors that must abort a whole sync run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrMalformedResponse)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
