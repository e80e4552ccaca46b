package events

import (
	"context"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
)

// AuditConsumer records room activity from the message.* queue.
type AuditConsumer struct {
	broker messaging.Broker
	queue  string
	audit  domain.RoomAuditRepository
	logger logging.Logger
}

func NewAuditConsumer(broker messaging.Broker, queue string, audit domain.RoomAuditRepository, logger logging.Logger) *AuditConsumer {
	return &AuditConsumer{broker: broker, queue: queue, audit: audit, logger: logger}
}

func (c *AuditConsumer) Listen(ctx context.Context) error {
	return c.broker.Consume(ctx, c.queue, c.handle)
}

func (c *AuditConsumer) handle(ctx context.Context, d messaging.Delivery) error {
	var entry *domain.RoomAuditLog

	switch d.RoutingKey {
	case contracts.EventMessageCreated:
		var event contracts.MessageCreatedEvent
		if err := d.Decode(&event); err != nil {
			return err
		}
		entry = domain.NewMessagePersistedLog(&event.Message)
	case contracts.EventMessageReactionUpdated:
		var event contracts.ReactionUpdatedEvent
		if err := d.Decode(&event); err != nil {
			return err
		}
		entry = domain.NewReactionUpdatedLog(&domain.Message{ID: event.MessageID, RoomID: event.RoomID},
			event.UserID, event.Reaction, event.Op)
	default:
		c.logger.Debug(logging.RabbitMQ, logging.Consume, "ignoring event", map[logging.ExtraKey]any{
			logging.RoutingKey: d.RoutingKey,
			logging.Queue:      c.queue,
		})
		return nil
	}

	return c.audit.Log(ctx, entry)
}
