package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrRateLimitExhausted is matched by the error returned once every attempt of
// a call failed transiently.
var ErrRateLimitExhausted = errors.New("rate limit exceeded after retries")

// ErrResponseTooLarge is returned when a provider body exceeds
// Config.MaxBodyBytes. Oversized bodies are never truncated or cached.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// ExhaustedError describes a call that ran out of attempts on transient failures.
type ExhaustedError struct {
	Method     string
	URL        string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("%s %s: %s (%d attempts", e.Method, e.URL, ErrRateLimitExhausted.Error(), e.Attempts)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(", last status %d", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += ", last error: " + e.LastErr.Error()
	}
	return msg + ")"
}

// Is reports whether target is ErrRateLimitExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRateLimitExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// StatusError is returned when the provider answered with a status that is
// neither accepted nor transient.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

// isTimeout reports whether a transport error signals a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
