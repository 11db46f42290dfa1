package client

import (
	"errors"
	"fmt"

	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// HTTPError is a completed request answered with a 4xx or 5xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("kintone API returned HTTP %d", e.StatusCode)
}

// TimeoutError is a request that exceeded its deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "request timed out: " + e.Err.Error() }

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError is a connection-level failure with no HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is a 2xx response whose body is not valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "invalid JSON response: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// Classify maps any error returned by the client to the structured error
// shown to the caller.
func Classify(err error) *mcperrors.StructuredError {
	var (
		se       *mcperrors.StructuredError
		httpErr  *HTTPError
		timeout  *TimeoutError
		tErr     *TransportError
		parseErr *ParseError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return se
	case errors.As(err, &timeout):
		return mcperrors.NewTimeout()
	case errors.As(err, &httpErr):
		return mcperrors.FromHTTPStatus(httpErr.StatusCode, httpErr.Body)
	case errors.As(err, &parseErr):
		return mcperrors.NewParseError()
	case errors.As(err, &tErr):
		return mcperrors.NewNetworkError(tErr.Err)
	default:
		return mcperrors.NewUnexpected(err)
	}
}
