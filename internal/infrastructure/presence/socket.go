package presence

import (
	"encoding/json"
	"errors"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSocketNotFound  = errors.New("socket not found")
	ErrRoomAccess      = errors.New("room access denied")
	ErrInvalidRoom     = errors.New("room id is required")
)

// Socket is one client connection held by this instance. Emit must not block:
// a full send buffer is reported as an error and the packet is dropped.
type Socket interface {
	ID() string
	Emit(event string, data json.RawMessage) error
	Close() error
}
