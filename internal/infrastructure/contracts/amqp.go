package contracts

import (
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
)

// Routing keys on the chat exchange, using consistent event/command patterns.
const (
	EventMessageCreated         = "message.created"
	EventMessageReactionUpdated = "message.reaction_updated"
	EventMessageRead            = "message.read"
	EventMentionCreated         = "mention.created"
)

// RPC topics served by collaborator services.
const (
	RPCValidateToken      = "auth.validate_token"
	RPCValidateRoomAccess = "room.validate_access"
)

type ValidateTokenRequest struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId,omitempty"`
}

type AuthUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ValidateTokenReply struct {
	Success bool      `json:"success"`
	User    *AuthUser `json:"user,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type ValidateAccessRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type ValidateAccessReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrorReply is sent back when an RPC handler fails.
type ErrorReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// MessageCreatedEvent is published once a message is persisted.
type MessageCreatedEvent struct {
	Message domain.Message `json:"message"`
}

type ReactionUpdatedEvent struct {
	MessageID string              `json:"messageId"`
	RoomID    string              `json:"roomId"`
	UserID    string              `json:"userId"`
	Reaction  string              `json:"reaction"`
	Op        domain.ReactionOp   `json:"type"`
	Reactions map[string][]string `json:"reactions"`
}

type MessageReadEvent struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type MentionCreatedEvent struct {
	Notification domain.Notification `json:"notification"`
}
