package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RoomEventType string

const (
	EventMessagePersisted RoomEventType = "message_persisted"
	EventReactionUpdated  RoomEventType = "reaction_updated"
	EventMemberJoined     RoomEventType = "member_joined"
	EventMemberLeft       RoomEventType = "member_left"
)

type RoomAuditLog struct {
	ID        string         `bson:"_id" json:"id"`
	RoomID    string         `bson:"room_id" json:"roomId"`
	EventType RoomEventType  `bson:"event_type" json:"eventType"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

type RoomAuditRepository interface {
	Log(ctx context.Context, log *RoomAuditLog) error
	GetByRoomID(ctx context.Context, roomID string, limit int) ([]RoomAuditLog, error)
	EnsureIndexes(ctx context.Context) error
}

func NewMessagePersistedLog(m *Message) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomID:    m.RoomID,
		EventType: EventMessagePersisted,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"message_id":   m.ID,
			"sender_id":    m.Sender.ID,
			"sender_kind":  string(m.Sender.Kind),
			"message_type": string(m.Type),
			"mentions":     len(m.Mentions),
		},
	}
}

func NewReactionUpdatedLog(m *Message, userID, emoji string, op ReactionOp) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomID:    m.RoomID,
		EventType: EventReactionUpdated,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"message_id": m.ID,
			"user_id":    userID,
			"reaction":   emoji,
			"op":         string(op),
		},
	}
}
