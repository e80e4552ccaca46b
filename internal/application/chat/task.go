package chat

import (
	"errors"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
)

var ErrUnknownTask = errors.New("unknown task")

// CreateMessage persists a validated message and announces it.
type CreateMessage struct {
	Message *domain.Message
}

func (CreateMessage) TaskName() string { return "create_message" }

// UpdateReaction toggles one user's reaction on a message.
type UpdateReaction struct {
	MessageID string
	UserID    string
	Reaction  string
	Op        domain.ReactionOp
}

func (UpdateReaction) TaskName() string { return "update_reaction" }

// MarkRead records the first time a user read a message.
type MarkRead struct {
	MessageID string
	UserID    string
	ReadAt    time.Time
}

func (MarkRead) TaskName() string { return "mark_read" }
