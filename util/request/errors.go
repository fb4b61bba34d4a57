package request

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// StatusError indicates unsuccessful http response
type StatusError struct {
	resp *http.Response
}

// NewStatusError create new StatusError for given response
func NewStatusError(resp *http.Response) *StatusError {
	return &StatusError{resp: resp}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d (%s)", e.resp.StatusCode, http.StatusText(e.resp.StatusCode))
}

// Response returns the response with the unexpected error
func (e *StatusError) Response() *http.Response {
	return e.resp
}

// StatusCode returns the response's status code
func (e *StatusError) StatusCode() int {
	return e.resp.StatusCode
}

// HasStatus returns true if the response's status code matches any of the given codes
func (e *StatusError) HasStatus(codes ...int) bool {
	for _, code := range codes {
		if e.resp.StatusCode == code {
			return true
		}
	}
	return false
}

// StatusCode extracts the http status code from err or returns 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return 0
}

// IsTransport returns true for network level errors that did not produce an http response
func IsTransport(err error) bool {
	var se *StatusError
	if err == nil || errors.As(err, &se) {
		return false
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne)
}
