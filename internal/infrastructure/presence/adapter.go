package presence

import (
	"context"
	"encoding/json"
)

// Packet is the unit broadcast between instances. Exactly one of Room or
// UserID addresses it.
type Packet struct {
	Origin       string          `json:"origin"`
	Room         string          `json:"room,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	ExceptUserID string          `json:"exceptUserId,omitempty"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
}

// Adapter broadcasts packets to every instance, the publisher included.
type Adapter interface {
	Publish(ctx context.Context, p Packet) error
	Subscribe(ctx context.Context, fn func(Packet)) error
	Close() error
}
