package searchclient

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a 2xx body carries neither a books
// list nor a message, or cannot be decoded at all.
var ErrMalformedResponse = errors.New("searchclient: malformed response")

// TransportError reports a failure below the application level: the request
// could not be sent, or the endpoint answered with a non-2xx status.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("search endpoint returned HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("search endpoint unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NoResultsError reports a sentinel payload: the endpoint answered with a
// message field instead of books. The message text is kept for diagnostics
// only; callers must not depend on it.
type NoResultsError struct {
	Message string
}

func (e *NoResultsError) Error() string {
	if e.Message == "" {
		return "no books found"
	}
	return fmt.Sprintf("no books found: %s", e.Message)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNoResults reports whether err is, or wraps, a NoResultsError.
func IsNoResults(err error) bool {
	var nr *NoResultsError
	return errors.As(err, &nr)
}
