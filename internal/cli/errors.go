package cli

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// APIError is a non-2xx response from the caravel server.
type APIError struct {
	// StatusCode is the HTTP status the server answered with.
	StatusCode int

	// Message is the error body the server sent.
	Message string
}

// Error returns the server-side message with the status code.
func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Conflict reports whether the request was rejected because of unit state
// (fatal unit, release in progress, no rollback target).
func (e *APIError) Conflict() bool {
	return e.StatusCode == 409
}

// ConnectionError indicates the caravel server could not be reached at all.
// It wraps the underlying error and carries the endpoint for user feedback.
type ConnectionError struct {
	// Endpoint is the URL that could not be reached.
	Endpoint string

	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly message with actionable guidance.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf(`Cannot connect to caravel server at %s

%s

Is the server running? Start it with:

  caravel serve`, e.Endpoint, describeConnectionFailure(e.Reason))
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError wraps a transport-level error into a
// ConnectionError. Returns nil for a nil error.
func ClassifyConnectionError(err error, endpoint string) *ConnectionError {
	if err == nil {
		return nil
	}
	return &ConnectionError{Endpoint: endpoint, Reason: err}
}

// describeConnectionFailure picks a one-line description of the failure
// class: timeout, DNS, refused, or the raw error.
func describeConnectionFailure(err error) string {
	if err == nil {
		return "Connection error"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "Connection timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Connection timed out"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Network unreachable"
	}
	return errStr
}
