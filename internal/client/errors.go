package client

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from a collaborator service
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// IsClientFault reports whether the error is a 4xx rejection of our
// input. Those are not retryable: no attempt budget will fix a
// malformed source or an unsupported format. 429 is excluded since
// throttling clears on its own.
func IsClientFault(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
