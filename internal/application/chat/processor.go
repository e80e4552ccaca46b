package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/sequencer"
)

type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, message *domain.Message) error
	PublishReactionUpdated(ctx context.Context, event contracts.ReactionUpdatedEvent) error
	PublishMessageRead(ctx context.Context, event contracts.MessageReadEvent) error
}

type MentionNotifier interface {
	CreateMentionNotifications(ctx context.Context, message *domain.Message) error
}

// MessageProcessor runs sequenced room tasks. A task that fails before its
// event is published publishes nothing.
type MessageProcessor struct {
	messages domain.MessageRepository
	users    domain.UserRepository
	files    domain.FileRepository
	events   EventPublisher
	mentions MentionNotifier
	logger   logging.Logger
}

func NewMessageProcessor(
	messages domain.MessageRepository,
	users domain.UserRepository,
	files domain.FileRepository,
	events EventPublisher,
	mentions MentionNotifier,
	logger logging.Logger,
) *MessageProcessor {
	return &MessageProcessor{
		messages: messages,
		users:    users,
		files:    files,
		events:   events,
		mentions: mentions,
		logger:   logger,
	}
}

func (p *MessageProcessor) Process(ctx context.Context, task sequencer.QueuedTask) error {
	switch t := task.Payload.(type) {
	case CreateMessage:
		return p.createMessage(ctx, t.Message)
	case UpdateReaction:
		return p.updateReaction(ctx, task.RoomID, t)
	case MarkRead:
		return p.markRead(ctx, task.RoomID, t)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTask, task.Payload.TaskName())
	}
}

func (p *MessageProcessor) createMessage(ctx context.Context, msg *domain.Message) error {
	if msg == nil {
		return domain.ErrInvalidMessage
	}
	if err := p.messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("persist message %s: %w", msg.ID, err)
	}

	p.populateSender(ctx, msg)
	p.populateFile(ctx, msg)

	if err := p.events.PublishMessageCreated(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for %s: %w", contracts.EventMessageCreated, msg.ID, err)
	}

	if len(msg.Mentions) > 0 && p.mentions != nil {
		if err := p.mentions.CreateMentionNotifications(ctx, msg); err != nil {
			p.logger.Error(logging.Internal, logging.Process, "mention notifications failed", map[logging.ExtraKey]any{
				logging.MessageID:    msg.ID,
				logging.RoomID:       msg.RoomID,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
	return nil
}

func (p *MessageProcessor) populateSender(ctx context.Context, msg *domain.Message) {
	if msg.Sender.IsAssistant() || p.users == nil {
		return
	}
	user, err := p.users.GetByID(ctx, msg.Sender.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			p.logger.Warn(logging.Internal, logging.Select, "sender lookup failed", map[logging.ExtraKey]any{
				logging.UserID:       msg.Sender.ID,
				logging.ErrorMessage: err.Error(),
			})
		}
		return
	}
	msg.Sender.Name = user.Name
	msg.Sender.Email = user.Email
}

func (p *MessageProcessor) populateFile(ctx context.Context, msg *domain.Message) {
	if msg.FileID == "" || p.files == nil {
		return
	}
	file, err := p.files.GetByID(ctx, msg.FileID)
	if err != nil {
		p.logger.Warn(logging.Internal, logging.Select, "file lookup failed", map[logging.ExtraKey]any{
			logging.MessageID:    msg.ID,
			logging.ErrorMessage: err.Error(),
		})
		return
	}
	msg.File = file
}

func (p *MessageProcessor) updateReaction(ctx context.Context, roomID string, t UpdateReaction) error {
	msg, err := p.messages.ApplyReaction(ctx, t.MessageID, t.Reaction, t.UserID, t.Op)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) || errors.Is(err, domain.ErrInvalidReaction) {
			// Permanent failures are dropped rather than halting the room.
			p.logger.Warn(logging.Internal, logging.Update, "reaction rejected", map[logging.ExtraKey]any{
				logging.MessageID:    t.MessageID,
				logging.RoomID:       roomID,
				logging.ErrorMessage: err.Error(),
			})
			return nil
		}
		return fmt.Errorf("apply reaction on %s: %w", t.MessageID, err)
	}

	return p.events.PublishReactionUpdated(ctx, contracts.ReactionUpdatedEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		UserID:    t.UserID,
		Reaction:  t.Reaction,
		Op:        t.Op,
		Reactions: msg.Reactions,
	})
}

func (p *MessageProcessor) markRead(ctx context.Context, roomID string, t MarkRead) error {
	msg, changed, err := p.messages.MarkRead(ctx, t.MessageID, t.UserID, t.ReadAt)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			p.logger.Warn(logging.Internal, logging.Update, "read receipt rejected", map[logging.ExtraKey]any{
				logging.MessageID:    t.MessageID,
				logging.RoomID:       roomID,
				logging.ErrorMessage: err.Error(),
			})
			return nil
		}
		return fmt.Errorf("mark %s read: %w", t.MessageID, err)
	}
	if !changed {
		return nil
	}

	return p.events.PublishMessageRead(ctx, contracts.MessageReadEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		UserID:    t.UserID,
		ReadAt:    t.ReadAt,
	})
}
