package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
)

type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler messaging.Handler) error
}

// Emitter is the cluster-wide socket fan-out.
type Emitter interface {
	EmitToRoom(ctx context.Context, roomID, event string, data any) error
	EmitToRoomExcept(ctx context.Context, roomID, exceptUserID, event string, data any) error
	EmitToUser(ctx context.Context, userID, event string, data any) error
}

// MessageConsumer turns persisted-message events into socket emits. Its
// queues are shared by all instances, so each event is handled once and the
// emit reaches every instance through the presence adapter.
type MessageConsumer struct {
	bus     Subscriber
	emitter Emitter
	logger  logging.Logger
}

func NewMessageConsumer(bus Subscriber, emitter Emitter, logger logging.Logger) *MessageConsumer {
	return &MessageConsumer{bus: bus, emitter: emitter, logger: logger}
}

func (c *MessageConsumer) Listen(ctx context.Context) error {
	if err := c.bus.Subscribe(ctx, contracts.EventMessageCreated, c.handleCreated); err != nil {
		return err
	}
	if err := c.bus.Subscribe(ctx, contracts.EventMessageReactionUpdated, c.handleReaction); err != nil {
		return err
	}
	return c.bus.Subscribe(ctx, contracts.EventMessageRead, c.handleRead)
}

func (c *MessageConsumer) handleCreated(ctx context.Context, d messaging.Delivery) error {
	var event contracts.MessageCreatedEvent
	if err := d.Decode(&event); err != nil {
		return err
	}
	msg := event.Message
	if msg.RoomID == "" {
		return fmt.Errorf("message %s has no room", msg.ID)
	}

	c.logger.Debug(logging.Presence, logging.FanOut, "fanning out message", map[logging.ExtraKey]any{
		logging.RoomID:    msg.RoomID,
		logging.MessageID: msg.ID,
	})

	return errors.Join(
		c.emitter.EmitToRoom(ctx, msg.RoomID, ws.Message, msg),
		c.emitter.EmitToRoomExcept(ctx, msg.RoomID, msg.Sender.ID, ws.NewMessage, ws.NewMessagePayload{
			MessageID: msg.ID,
			RoomID:    msg.RoomID,
			Sender:    msg.Sender.ID,
		}),
	)
}

func (c *MessageConsumer) handleReaction(ctx context.Context, d messaging.Delivery) error {
	var event contracts.ReactionUpdatedEvent
	if err := d.Decode(&event); err != nil {
		return err
	}

	return c.emitter.EmitToRoom(ctx, event.RoomID, ws.MessageReactionUpdate, ws.ReactionUpdatePayload{
		MessageID: event.MessageID,
		Reactions: event.Reactions,
	})
}

func (c *MessageConsumer) handleRead(ctx context.Context, d messaging.Delivery) error {
	var event contracts.MessageReadEvent
	if err := d.Decode(&event); err != nil {
		return err
	}

	return c.emitter.EmitToRoom(ctx, event.RoomID, ws.MessageRead, ws.MessageReadPayload{
		MessageID: event.MessageID,
		UserID:    event.UserID,
		Timestamp: event.ReadAt,
	})
}
