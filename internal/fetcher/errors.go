package fetcher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthenticationFailed covers any failed token request.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrIdentityResolutionFailed covers premise or partner lookups that fail or come back empty.
	ErrIdentityResolutionFailed = errors.New("identity resolution failed")
	// ErrFetchFailed is returned when the measurement endpoint answers with a non-success status.
	ErrFetchFailed = errors.New("measurement fetch failed")
	// ErrTransport marks timeouts and connection errors.
	ErrTransport = errors.New("transport error")
)

// StatusError records an unexpected HTTP status for diagnostics.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s responded %d: %s", e.Endpoint, e.Code, e.Body)
	}
	return fmt.Sprintf("%s responded %d", e.Endpoint, e.Code)
}

func newStatusError(endpoint string, code int, body []byte) *StatusError {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return &StatusError{Endpoint: endpoint, Code: code, Body: text}
}

// StatusCode extracts the HTTP status from err, or 0 when there is none.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}
