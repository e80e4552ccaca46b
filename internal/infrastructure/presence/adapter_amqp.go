package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
)

// AMQPAdapter fans packets out through a fanout exchange. Each instance
// consumes from its own exclusive, auto-deleted queue.
type AMQPAdapter struct {
	broker   messaging.Broker
	exchange string
	queue    string
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewAMQPAdapter(broker messaging.Broker, exchange, instanceID string, logger logging.Logger) *AMQPAdapter {
	return &AMQPAdapter{
		broker:   broker,
		exchange: exchange,
		queue:    fmt.Sprintf("%s.%s", exchange, instanceID),
		logger:   logger,
	}
}

func (a *AMQPAdapter) Publish(ctx context.Context, p Packet) error {
	return a.broker.Publish(ctx, a.exchange, "", p, messaging.Transient())
}

func (a *AMQPAdapter) Subscribe(ctx context.Context, fn func(Packet)) error {
	if err := a.broker.DeclareExchange(ctx, messaging.ExchangeSpec{
		Name:    a.exchange,
		Kind:    messaging.ExchangeFanout,
		Durable: true,
	}); err != nil {
		return fmt.Errorf("declare presence exchange: %w", err)
	}
	if _, err := a.broker.DeclareQueue(ctx, messaging.QueueSpec{
		Name:       a.queue,
		AutoDelete: true,
		Exclusive:  true,
	}); err != nil {
		return fmt.Errorf("declare presence queue: %w", err)
	}
	if err := a.broker.BindQueue(ctx, messaging.Binding{Queue: a.queue, Exchange: a.exchange}); err != nil {
		return fmt.Errorf("bind presence queue: %w", err)
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	return a.broker.Consume(consumeCtx, a.queue, func(_ context.Context, d messaging.Delivery) error {
		var p Packet
		if err := d.Decode(&p); err != nil {
			a.logger.Warn(logging.Presence, logging.FanOut, "dropping undecodable packet", map[logging.ExtraKey]any{
				logging.Queue:        a.queue,
				logging.ErrorMessage: err.Error(),
			})
			return nil
		}
		fn(p)
		return nil
	}, messaging.AutoAck(), messaging.Exclusive())
}

func (a *AMQPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	return nil
}
