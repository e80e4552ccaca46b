package events

import (
	"context"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
)

type NotificationConsumer struct {
	broker  messaging.Broker
	queue   string
	emitter Emitter
	logger  logging.Logger
}

func NewNotificationConsumer(broker messaging.Broker, queue string, emitter Emitter, logger logging.Logger) *NotificationConsumer {
	return &NotificationConsumer{broker: broker, queue: queue, emitter: emitter, logger: logger}
}

func (c *NotificationConsumer) Listen(ctx context.Context) error {
	return c.broker.Consume(ctx, c.queue, func(ctx context.Context, d messaging.Delivery) error {
		var n domain.Notification
		if err := d.Decode(&n); err != nil {
			return err
		}
		if n.UserID == "" {
			c.logger.Warn(logging.Presence, logging.FanOut, "notification without recipient", map[logging.ExtraKey]any{
				logging.MessageID: n.MessageID,
			})
			return nil
		}
		return c.emitter.EmitToUser(ctx, n.UserID, ws.NewNotification, n)
	})
}
