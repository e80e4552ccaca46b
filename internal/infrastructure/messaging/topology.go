package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
)

const (
	argDeadLetterExchange = "x-dead-letter-exchange"
	argMessageTTL         = "x-message-ttl"
	argMaxLength          = "x-max-length"
	argAlternateExchange  = "alternate-exchange"
)

type ExchangeSpec struct {
	Name              string
	Kind              string
	Durable           bool
	AutoDelete        bool
	AlternateExchange string
}

func (s ExchangeSpec) args() map[string]any {
	if s.AlternateExchange == "" {
		return nil
	}
	return map[string]any{argAlternateExchange: s.AlternateExchange}
}

// QueuePolicy bounds a queue so expired or rejected messages are diverted
// instead of lost.
type QueuePolicy struct {
	TTL                time.Duration
	MaxLength          int
	DeadLetterExchange string
}

type QueueSpec struct {
	// Name may be empty for a broker-named queue.
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Policy     QueuePolicy
}

func (s QueueSpec) args() map[string]any {
	args := make(map[string]any, 3)
	if s.Policy.DeadLetterExchange != "" {
		args[argDeadLetterExchange] = s.Policy.DeadLetterExchange
	}
	if s.Policy.TTL > 0 {
		args[argMessageTTL] = int32(s.Policy.TTL / time.Millisecond)
	}
	if s.Policy.MaxLength > 0 {
		args[argMaxLength] = int32(s.Policy.MaxLength)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

type Topology struct {
	Exchanges []ExchangeSpec
	Queues    []QueueSpec
	Bindings  []Binding
}

var (
	MessageQueuePolicy = QueuePolicy{TTL: 24 * time.Hour, MaxLength: 10000}
	NotificationPolicy = QueuePolicy{TTL: 7 * 24 * time.Hour, MaxLength: 50000}
	DeadLetterPolicy   = QueuePolicy{TTL: 24 * time.Hour, MaxLength: 10000}
)

// DefaultTopology builds the chat topology from the broker config.
func DefaultTopology(cfg configs.BrokerConfig) Topology {
	dlx := cfg.DeadLetterExchange

	messagePolicy := MessageQueuePolicy
	messagePolicy.DeadLetterExchange = dlx
	notificationPolicy := NotificationPolicy
	notificationPolicy.DeadLetterExchange = dlx

	return Topology{
		Exchanges: []ExchangeSpec{
			{Name: dlx, Kind: ExchangeFanout, Durable: true},
			{Name: cfg.ChatExchange, Kind: ExchangeTopic, Durable: true, AlternateExchange: dlx},
			{Name: cfg.NotificationExchange, Kind: ExchangeFanout, Durable: true, AlternateExchange: dlx},
		},
		Queues: []QueueSpec{
			{Name: cfg.DeadLetterQueue, Durable: true, Policy: DeadLetterPolicy},
			{Name: cfg.MessageQueue, Durable: true, Policy: messagePolicy},
			{Name: cfg.NotificationQueue, Durable: true, Policy: notificationPolicy},
		},
		Bindings: []Binding{
			{Queue: cfg.DeadLetterQueue, Exchange: dlx, RoutingKey: ""},
			{Queue: cfg.MessageQueue, Exchange: cfg.ChatExchange, RoutingKey: "message.*"},
			{Queue: cfg.NotificationQueue, Exchange: cfg.NotificationExchange, RoutingKey: ""},
		},
	}
}

// DeclareTopology asserts every exchange, queue and binding. Re-running it
// against an existing topology is a no-op.
func DeclareTopology(ctx context.Context, d Declarer, t Topology) error {
	for _, ex := range t.Exchanges {
		if err := d.DeclareExchange(ctx, ex); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range t.Queues {
		if _, err := d.DeclareQueue(ctx, q); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
		}
	}
	for _, b := range t.Bindings {
		if err := d.BindQueue(ctx, b); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", b.Queue, b.Exchange, err)
		}
	}
	return nil
}
