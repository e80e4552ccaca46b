package eventbus

import (
	"errors"
	"fmt"
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrNotStarted     = errors.New("event bus not started")
)

// RequestTimeoutError means no reply arrived in time. The remote effect is
// unknown: the request may still have been applied.
type RequestTimeoutError struct {
	Topic         string
	CorrelationID string
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %s (correlation id %s) timed out", e.Topic, e.CorrelationID)
}

func (e *RequestTimeoutError) Is(target error) bool {
	return target == ErrRequestTimeout
}

// HandlerError wraps a subscriber failure. The message is dead-lettered.
type HandlerError struct {
	Topic string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s failed: %v", e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
