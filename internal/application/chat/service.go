package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/sequencer"
)

const (
	DefaultHistoryBatch = 30
	maxHistoryBatch     = 100
)

type Enqueuer interface {
	Enqueue(roomID string, task sequencer.Task) error
}

// Service is the entry point for socket events that change room state. Writes
// are handed to the sequencer and applied in arrival order per room.
type Service struct {
	sequencer    Enqueuer
	messages     domain.MessageRepository
	historyBatch int
}

func NewService(seq Enqueuer, messages domain.MessageRepository, historyBatch int) *Service {
	if historyBatch <= 0 {
		historyBatch = DefaultHistoryBatch
	}
	return &Service{sequencer: seq, messages: messages, historyBatch: historyBatch}
}

// SendMessage validates the draft and queues it. The returned message
// carries the id clients use to reconcile the later message event.
func (s *Service) SendMessage(_ context.Context, draft domain.MessageDraft) (*domain.Message, error) {
	msg, err := domain.NewMessage(draft)
	if err != nil {
		return nil, err
	}
	if err := s.sequencer.Enqueue(msg.RoomID, CreateMessage{Message: msg}); err != nil {
		return nil, fmt.Errorf("enqueue message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// Membership reports whether the caller has joined roomID.
type Membership func(roomID string) bool

// UpdateReaction queues a reaction change on the message's own room queue.
// A client roomID that names another room is rejected.
func (s *Service) UpdateReaction(ctx context.Context, userID, messageID, roomID, reaction string, op domain.ReactionOp, member Membership) error {
	if messageID == "" || reaction == "" || userID == "" {
		return fmt.Errorf("%w: message id, user id and reaction are required", domain.ErrInvalidReaction)
	}
	if op != domain.ReactionAdd && op != domain.ReactionRemove {
		return fmt.Errorf("%w: unknown type %q", domain.ErrInvalidReaction, op)
	}

	room, err := s.messageRoom(ctx, messageID, roomID, member)
	if err != nil {
		return err
	}

	return s.sequencer.Enqueue(room, UpdateReaction{
		MessageID: messageID,
		UserID:    userID,
		Reaction:  reaction,
		Op:        op,
	})
}

// MarkRead queues a read receipt for userID.
func (s *Service) MarkRead(ctx context.Context, userID, messageID, roomID string, member Membership) error {
	if messageID == "" || userID == "" {
		return fmt.Errorf("%w: message id and user id are required", domain.ErrInvalidInput)
	}

	room, err := s.messageRoom(ctx, messageID, roomID, member)
	if err != nil {
		return err
	}

	return s.sequencer.Enqueue(room, MarkRead{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    time.Now(),
	})
}

// messageRoom resolves the room that owns messageID and checks the caller
// belongs to it.
func (s *Service) messageRoom(ctx context.Context, messageID, roomID string, member Membership) (string, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return "", err
	}
	if roomID != "" && roomID != msg.RoomID {
		return "", fmt.Errorf("%w: %s", domain.ErrWrongRoom, messageID)
	}
	if member == nil || !member(msg.RoomID) {
		return "", fmt.Errorf("%w: %s", domain.ErrNotRoomMember, msg.RoomID)
	}
	return msg.RoomID, nil
}

// LoadMessages pages backwards through room history, oldest first.
func (s *Service) LoadMessages(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, bool, error) {
	if roomID == "" {
		return nil, false, domain.ErrInvalidInput
	}
	if limit <= 0 {
		limit = s.historyBatch
	}
	limit = min(limit, maxHistoryBatch)

	var cursor time.Time
	if before != nil {
		cursor = *before
	}
	return s.messages.ListByRoom(ctx, roomID, cursor, limit)
}
