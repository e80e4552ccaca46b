package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/metrics"
)

const DefaultRequestTimeout = 5000 * time.Millisecond

type Config struct {
	Service        string
	InstanceID     string
	Exchange       string
	RequestTimeout time.Duration
	QueuePolicy    messaging.QueuePolicy
}

func NewConfig(cfg *configs.Config, instanceID string) Config {
	policy := messaging.MessageQueuePolicy
	policy.DeadLetterExchange = cfg.Broker.DeadLetterExchange

	return Config{
		Service:        cfg.Bus.Service,
		InstanceID:     instanceID,
		Exchange:       cfg.Broker.ChatExchange,
		RequestTimeout: cfg.Bus.RequestTimeout,
		QueuePolicy:    policy,
	}
}

// Bus layers topic pub/sub and correlated request/reply over a Broker.
type Bus struct {
	broker  messaging.Broker
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Metrics

	replyQueue string
	started    atomic.Bool
	seq        atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan messaging.Delivery
}

func New(broker messaging.Broker, cfg Config, logger logging.Logger, m *metrics.Metrics) *Bus {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Bus{
		broker:     broker,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		replyQueue: fmt.Sprintf("%s.reply.%s", cfg.Service, cfg.InstanceID),
		pending:    make(map[string]chan messaging.Delivery),
	}
}

// Start declares the private reply queue and begins consuming replies.
func (b *Bus) Start(ctx context.Context) error {
	if b.started.Load() {
		return nil
	}

	if _, err := b.broker.DeclareQueue(ctx, messaging.QueueSpec{
		Name:       b.replyQueue,
		AutoDelete: true,
		Exclusive:  true,
	}); err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	if err := b.broker.Consume(ctx, b.replyQueue, b.onReply, messaging.AutoAck(), messaging.Exclusive()); err != nil {
		return fmt.Errorf("failed to consume reply queue: %w", err)
	}

	b.started.Store(true)
	b.logger.Info(logging.EventBus, logging.Startup, "event bus started", map[logging.ExtraKey]any{
		logging.Queue: b.replyQueue,
	})
	return nil
}

func (b *Bus) ReplyQueue() string {
	return b.replyQueue
}

// Publish emits a fire-and-forget domain event. Delivery is at-least-once.
func (b *Bus) Publish(ctx context.Context, topic string, data any) error {
	return b.broker.Publish(ctx, b.cfg.Exchange, topic, data,
		messaging.WithHeader(messaging.HeaderService, b.cfg.Service),
		messaging.WithHeader(messaging.HeaderEvent, topic),
	)
}

// Subscribe binds the durable per-service queue for topic and consumes it.
// Messages are acked once handler returns nil and dead-lettered otherwise.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler messaging.Handler) error {
	queue := fmt.Sprintf("%s_%s", b.cfg.Service, topic)

	if _, err := b.broker.DeclareQueue(ctx, messaging.QueueSpec{
		Name:    queue,
		Durable: true,
		Policy:  b.cfg.QueuePolicy,
	}); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	if err := b.broker.BindQueue(ctx, messaging.Binding{
		Queue:      queue,
		Exchange:   b.cfg.Exchange,
		RoutingKey: topic,
	}); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	return b.broker.Consume(ctx, queue, func(ctx context.Context, d messaging.Delivery) error {
		if err := handler(ctx, d); err != nil {
			herr := &HandlerError{Topic: topic, Err: err}
			b.logger.Error(logging.EventBus, logging.Consume, herr.Error(), map[logging.ExtraKey]any{
				logging.Topic: topic,
				logging.Queue: queue,
			})
			return herr
		}
		return nil
	})
}

type requestOptions struct {
	timeout time.Duration
}

type RequestOption func(*requestOptions)

func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// Request publishes data on topic and waits for the correlated reply.
func (b *Bus) Request(ctx context.Context, topic string, data any, opts ...RequestOption) (json.RawMessage, error) {
	if !b.started.Load() {
		return nil, ErrNotStarted
	}

	o := requestOptions{timeout: b.cfg.RequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	id := strconv.FormatUint(b.seq.Add(1), 10)
	replies := make(chan messaging.Delivery, 1)

	b.mu.Lock()
	b.pending[id] = replies
	b.mu.Unlock()

	start := time.Now()
	defer func() { b.metrics.RequestObserved(topic, time.Since(start)) }()

	if err := b.broker.Publish(ctx, b.cfg.Exchange, topic, data,
		messaging.WithCorrelationID(id),
		messaging.WithReplyTo(b.replyQueue),
		messaging.WithHeader(messaging.HeaderService, b.cfg.Service),
		messaging.WithHeader(messaging.HeaderEvent, topic),
		messaging.Transient(),
	); err != nil {
		b.forget(id)
		return nil, err
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case d := <-replies:
		return d.Body, nil
	case <-timer.C:
		if b.forget(id) {
			b.metrics.RequestTimedOut(topic)
			b.logger.Warn(logging.EventBus, logging.Request, "request timed out", map[logging.ExtraKey]any{
				logging.Topic:         topic,
				logging.CorrelationID: id,
			})
			return nil, &RequestTimeoutError{Topic: topic, CorrelationID: id}
		}
	case <-ctx.Done():
		if b.forget(id) {
			return nil, ctx.Err()
		}
	}

	// The reply was claimed concurrently with the timeout; it is already
	// buffered or about to be.
	d := <-replies
	return d.Body, nil
}

// RequestInto is Request followed by decoding the reply into out.
func (b *Bus) RequestInto(ctx context.Context, topic string, data, out any, opts ...RequestOption) error {
	body, err := b.Request(ctx, topic, data, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", topic, err)
	}
	return nil
}

// forget removes a pending request and reports whether it was still there.
func (b *Bus) forget(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

func (b *Bus) onReply(_ context.Context, d messaging.Delivery) error {
	b.mu.Lock()
	replies, ok := b.pending[d.CorrelationID]
	delete(b.pending, d.CorrelationID)
	b.mu.Unlock()

	if !ok {
		b.logger.Debug(logging.EventBus, logging.Request, "dropping reply without pending request", map[logging.ExtraKey]any{
			logging.CorrelationID: d.CorrelationID,
		})
		return nil
	}
	replies <- d
	return nil
}

func (b *Bus) pendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Responder answers one RPC request. A non-nil error is sent back as an
// error reply.
type Responder func(ctx context.Context, d messaging.Delivery) (any, error)

// Handle serves topic as an RPC endpoint, replying on the caller's reply
// queue with the request's correlation id.
func (b *Bus) Handle(ctx context.Context, topic string, fn Responder) error {
	if _, err := b.broker.DeclareQueue(ctx, messaging.QueueSpec{
		Name:    topic,
		Durable: true,
		Policy:  b.cfg.QueuePolicy,
	}); err != nil {
		return fmt.Errorf("failed to declare rpc queue %s: %w", topic, err)
	}
	if err := b.broker.BindQueue(ctx, messaging.Binding{
		Queue:      topic,
		Exchange:   b.cfg.Exchange,
		RoutingKey: topic,
	}); err != nil {
		return fmt.Errorf("failed to bind rpc queue %s: %w", topic, err)
	}

	return b.broker.Consume(ctx, topic, func(ctx context.Context, d messaging.Delivery) error {
		if d.ReplyTo == "" {
			b.logger.Warn(logging.EventBus, logging.Request, "rpc request without reply queue", map[logging.ExtraKey]any{
				logging.Topic:         topic,
				logging.CorrelationID: d.CorrelationID,
			})
			return nil
		}

		reply, err := fn(ctx, d)
		if err != nil {
			reply = contracts.ErrorReply{Success: false, Error: err.Error()}
		}

		return b.broker.Publish(ctx, messaging.DefaultExchange, d.ReplyTo, reply,
			messaging.WithCorrelationID(d.CorrelationID),
			messaging.WithHeader(messaging.HeaderService, b.cfg.Service),
			messaging.Transient(),
		)
	})
}
