package apiclient

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the per-request deadline fires before the
	// backend answers.
	ErrTimeout = errors.New("request timeout")
	// ErrNoToken is returned by Login when the backend answers without a
	// session token.
	ErrNoToken = errors.New("token not received")
)

// HTTPError is a completed exchange with a non-2xx status.
type HTTPError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
}

// NetworkError is a transport failure before any response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}
