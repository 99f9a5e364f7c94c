package finder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrEmptyQuery is returned when a description has no searchable text.
var ErrEmptyQuery = errors.New("finder: empty description")

// Kind classifies a failed volumes lookup. Its string form is the
// error_type metrics label.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindConnection  Kind = "connection"
	KindForbidden   Kind = "forbidden" // missing or exhausted API quota
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindUpstream    Kind = "upstream" // 5xx
)

// LookupError is a classified volumes lookup failure.
type LookupError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("volumes lookup %s (%d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("volumes lookup %s: %v", e.Kind, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Temporary reports whether another attempt may succeed.
func (e *LookupError) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindConnection, KindRateLimited, KindUpstream:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of err, or "" when err is not a LookupError.
func KindOf(err error) Kind {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "other"
}

func retryable(err error) bool {
	var le *LookupError
	return errors.As(err, &le) && le.Temporary()
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &LookupError{Kind: KindTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &LookupError{Kind: KindConnection, Err: err}
	}

	if statusCode == 0 {
		return err
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}
	var kind Kind
	switch {
	case statusCode == http.StatusForbidden:
		kind = KindForbidden
	case statusCode == http.StatusNotFound:
		kind = KindNotFound
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case statusCode >= http.StatusInternalServerError:
		kind = KindUpstream
	default:
		return err
	}
	return &LookupError{Kind: kind, StatusCode: statusCode, Err: err}
}
