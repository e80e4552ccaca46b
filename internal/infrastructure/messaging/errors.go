package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotReady  = errors.New("broker channel not ready")
	ErrClosed           = errors.New("broker closed")
	ErrExchangeNotFound = errors.New("exchange not found")
	ErrQueueNotFound    = errors.New("queue not found")
)

// PublishError reports a message that did not reach the broker.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish to %q with key %q: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
