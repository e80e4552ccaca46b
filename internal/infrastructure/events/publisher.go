package events

import (
	"context"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
)

// Publisher is the topic side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, data any) error
}

type MessagePublisher struct {
	bus Publisher
}

func NewMessagePublisher(bus Publisher) *MessagePublisher {
	return &MessagePublisher{bus: bus}
}

func (p *MessagePublisher) PublishMessageCreated(ctx context.Context, message *domain.Message) error {
	return p.bus.Publish(ctx, contracts.EventMessageCreated, contracts.MessageCreatedEvent{
		Message: *message,
	})
}

func (p *MessagePublisher) PublishReactionUpdated(ctx context.Context, event contracts.ReactionUpdatedEvent) error {
	return p.bus.Publish(ctx, contracts.EventMessageReactionUpdated, event)
}

func (p *MessagePublisher) PublishMessageRead(ctx context.Context, event contracts.MessageReadEvent) error {
	return p.bus.Publish(ctx, contracts.EventMessageRead, event)
}

// NotificationPublisher delivers notifications to the notification exchange
// for socket fan-out and announces them as mention.created.
type NotificationPublisher struct {
	broker   messaging.Broker
	exchange string
	bus      Publisher
}

func NewNotificationPublisher(broker messaging.Broker, exchange string, bus Publisher) *NotificationPublisher {
	return &NotificationPublisher{broker: broker, exchange: exchange, bus: bus}
}

func (p *NotificationPublisher) PublishMention(ctx context.Context, n domain.Notification) error {
	if err := p.broker.Publish(ctx, p.exchange, "", n,
		messaging.WithHeader(messaging.HeaderEvent, contracts.EventMentionCreated),
	); err != nil {
		return err
	}

	return p.bus.Publish(ctx, contracts.EventMentionCreated, contracts.MentionCreatedEvent{
		Notification: n,
	})
}
