package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates the server rejected the credentials (401)
	// or the configured token was already expired before sending
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedBody indicates a 200 response whose body was not valid
	// JSON, typically an HTML error page served with a success status
	ErrMalformedBody = errors.New("malformed response body")
)

// StatusError indicates a non-2xx HTTP response on the write path
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.Path, e.Code)
}
