package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	// ErrTransport marks failures where no response was received: network
	// errors, timeouts and unreadable bodies.
	ErrTransport = errors.New("transport failure")
	// ErrAuthExpired marks calls that failed because the credentials could
	// not be refreshed. The session has been cleared when it is returned.
	ErrAuthExpired = errors.New("authentication expired")
)

// Error describes a failed REST call.
type Error struct {
	URL      string
	Method   string
	Status   int
	Body     string
	TheError error
	TraceID  string
}

func (e *Error) Error() string {
	if e == nil || e.TheError == nil {
		return ""
	}
	return e.TheError.Error()
}

func (e *Error) Unwrap() error {
	return e.TheError
}

func NewError(url, method string, status int, body string, err error, traceID string) *Error {
	return &Error{
		URL:      url,
		Method:   method,
		Status:   status,
		Body:     body,
		TheError: err,
		TraceID:  traceID,
	}
}

func transportError(url, method string, err error) error {
	return errors.Mark(NewError(url, method, 0, "", errors.Wrap(err, "error sending request"), ""), ErrTransport)
}

// StatusCode returns the HTTP status of a failed call, or 0 when the call
// never received a response.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err is an authorization failure from the server.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
