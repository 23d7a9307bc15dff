package stream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrStreamingUnsupported signals that chunked streaming is disabled or
// unavailable. Callers fall back to the single request/response path.
var ErrStreamingUnsupported = errors.New("streaming transport unavailable")

// RequestError is a request-level failure: a connection error (status 0) or
// a non-2xx response. Decode and parse errors never become RequestErrors;
// they are recovered locally to keep the stream resilient.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("network failure: %s", e.Message)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// Busy reports the service-overloaded condition, an expected retry-soon
// state that gets a calmer user-facing notice than a generic failure.
func (e *RequestError) Busy() bool {
	return e.Status == http.StatusServiceUnavailable
}
