package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPError represents an HTTP error with status code and URL
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string

	// RetryAfter is the delay requested by the server, 0 when absent
	RetryAfter time.Duration
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// IsRateLimited reports whether the server rejected the request with 429
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsAuthExpired reports whether the access token was rejected
func (e *HTTPError) IsAuthExpired() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// AsHTTPError unwraps err to an *HTTPError
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
