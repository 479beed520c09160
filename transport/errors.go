package transport

import (
	"fmt"
	"net/http"

	"github.com/hqta1110/video-pipeline/types"
)

// RequestFailure is returned for any call that did not produce a 2xx reply.
// Status is 0 when no response was received at all.
type RequestFailure struct {
	Method   string
	Endpoint string
	Status   int
	Body     string
	Attempts int
	Err      error
}

func (e *RequestFailure) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Method, e.Endpoint, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s failed after %d attempt(s): HTTP %d: %s", e.Method, e.Endpoint, e.Attempts, e.Status, e.Body)
}

func (e *RequestFailure) Unwrap() error { return e.Err }

// Is makes every RequestFailure match types.ErrRequestFailure.
func (e *RequestFailure) Is(target error) bool { return target == types.ErrRequestFailure }

func (e *RequestFailure) retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}
