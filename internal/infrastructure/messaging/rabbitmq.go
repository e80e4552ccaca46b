package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-relay/internal/infrastructure/tracing"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = tracing.GetTracer("visper-relay/messaging")

// RabbitMQ owns one AMQP connection and channel. Declarations and consumers
// are remembered and replayed after a reconnect.
type RabbitMQ struct {
	uri       string
	prefetch  int
	reconnect configs.ReconnectConfig
	topology  Topology
	logger    logging.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	connectMu sync.Mutex

	mu    sync.RWMutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	ready bool

	// declMu serializes channel-mutating calls and guards the replay log.
	declMu    sync.Mutex
	exchanges []ExchangeSpec
	queues    []QueueSpec
	bindings  []Binding
	consumers map[string]*consumer

	wg sync.WaitGroup
}

type consumer struct {
	ctx     context.Context
	queue   string
	handler Handler
	opts    consumeOptions
}

func NewRabbitMQ(cfg configs.BrokerConfig, logger logging.Logger, m *metrics.Metrics) *RabbitMQ {
	ctx, cancel := context.WithCancel(context.Background())
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitMQ{
		uri:       cfg.URI,
		prefetch:  prefetch,
		reconnect: cfg.Reconnect,
		topology:  DefaultTopology(cfg),
		logger:    logger,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]*consumer),
	}
}

// Connect dials the broker, declares the chat topology and starts the close
// watcher. Calling it while already connected only logs a warning.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	if r.ctx.Err() != nil {
		return ErrClosed
	}

	r.mu.RLock()
	connected := r.ready
	r.mu.RUnlock()
	if connected {
		r.logger.Warn(logging.RabbitMQ, logging.Connection, "connect called while already connected", nil)
		return nil
	}

	conn, err := r.dial()
	if err != nil {
		return err
	}

	if err := DeclareTopology(ctx, r, r.topology); err != nil {
		r.teardown()
		return err
	}

	r.watch(conn)
	r.logger.Info(logging.RabbitMQ, logging.Connection, "connected to RabbitMQ", nil)
	return nil
}

// Ready reports whether a channel is currently open.
func (r *RabbitMQ) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

func (r *RabbitMQ) dial() (*amqp.Connection, error) {
	conn, err := amqp.Dial(r.uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	r.mu.Lock()
	r.conn, r.ch, r.ready = conn, ch, true
	r.mu.Unlock()

	return conn, nil
}

func (r *RabbitMQ) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ready = false
	if r.ch != nil {
		r.ch.Close()
		r.ch = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *RabbitMQ) watch(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case <-r.ctx.Done():
			return
		case amqpErr := <-closed:
			r.mu.Lock()
			r.ready = false
			r.mu.Unlock()

			if r.ctx.Err() != nil {
				return
			}
			r.logger.Warn(logging.RabbitMQ, logging.Connection, "connection lost, reconnecting", map[logging.ExtraKey]any{
				logging.ErrorMessage: fmt.Sprint(amqpErr),
			})
			r.reconnectLoop()
		}
	}()
}

func (r *RabbitMQ) reconnectLoop() {
	for r.ctx.Err() == nil {
		b := backoff.NewExponentialBackOff()
		if r.reconnect.InitialInterval > 0 {
			b.InitialInterval = r.reconnect.InitialInterval
		}
		if r.reconnect.MaxInterval > 0 {
			b.MaxInterval = r.reconnect.MaxInterval
		}

		attempt := 0
		conn, err := backoff.Retry(r.ctx, func() (*amqp.Connection, error) {
			attempt++
			conn, err := r.dial()
			if err != nil {
				return nil, err
			}
			if err := r.restore(); err != nil {
				r.teardown()
				return nil, err
			}
			return conn, nil
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, d time.Duration) {
				r.logger.Warn(logging.RabbitMQ, logging.Connection, "reconnect attempt failed", map[logging.ExtraKey]any{
					logging.Attempt:      attempt,
					logging.Delay:        d.String(),
					logging.ErrorMessage: err.Error(),
				})
			}),
		)
		if err != nil {
			continue
		}

		r.watch(conn)
		r.logger.Info(logging.RabbitMQ, logging.Connection, "reconnected to RabbitMQ", map[logging.ExtraKey]any{
			logging.Attempt: attempt,
		})
		return
	}
}

// restore replays declarations and restarts consumers on the current channel.
func (r *RabbitMQ) restore() error {
	r.declMu.Lock()
	defer r.declMu.Unlock()

	ch := r.channel()
	if ch == nil {
		return ErrChannelNotReady
	}

	for _, ex := range r.exchanges {
		if err := declareExchange(ch, ex); err != nil {
			return err
		}
	}
	for _, q := range r.queues {
		if _, err := declareQueue(ch, q); err != nil {
			return err
		}
	}
	for _, b := range r.bindings {
		if err := bindQueue(ch, b); err != nil {
			return err
		}
	}
	for _, c := range r.consumers {
		if c.ctx.Err() != nil {
			delete(r.consumers, c.opts.tag)
			continue
		}
		if err := r.startConsumer(ch, c); err != nil {
			return err
		}
	}
	r.logger.Info(logging.RabbitMQ, logging.Topology, "topology restored", map[logging.ExtraKey]any{
		logging.Queue: len(r.queues),
	})
	return nil
}

func (r *RabbitMQ) channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return nil
	}
	return r.ch
}

func (r *RabbitMQ) DeclareExchange(_ context.Context, spec ExchangeSpec) error {
	r.declMu.Lock()
	defer r.declMu.Unlock()

	ch := r.channel()
	if ch == nil {
		return ErrChannelNotReady
	}
	if err := declareExchange(ch, spec); err != nil {
		return err
	}

	for _, ex := range r.exchanges {
		if ex.Name == spec.Name {
			return nil
		}
	}
	r.exchanges = append(r.exchanges, spec)
	return nil
}

func (r *RabbitMQ) DeclareQueue(_ context.Context, spec QueueSpec) (string, error) {
	r.declMu.Lock()
	defer r.declMu.Unlock()

	ch := r.channel()
	if ch == nil {
		return "", ErrChannelNotReady
	}
	name, err := declareQueue(ch, spec)
	if err != nil {
		return "", err
	}

	// Broker-named queues cannot be redeclared by name after a reconnect.
	if spec.Name == "" {
		return name, nil
	}
	for _, q := range r.queues {
		if q.Name == spec.Name {
			return name, nil
		}
	}
	r.queues = append(r.queues, spec)
	return name, nil
}

func (r *RabbitMQ) BindQueue(_ context.Context, b Binding) error {
	r.declMu.Lock()
	defer r.declMu.Unlock()

	ch := r.channel()
	if ch == nil {
		return ErrChannelNotReady
	}
	if err := bindQueue(ch, b); err != nil {
		return err
	}

	for _, existing := range r.bindings {
		if existing == b {
			return nil
		}
	}
	r.bindings = append(r.bindings, b)
	return nil
}

func declareExchange(ch *amqp.Channel, spec ExchangeSpec) error {
	return ch.ExchangeDeclare(
		spec.Name,       // name
		spec.Kind,       // type
		spec.Durable,    // durable
		spec.AutoDelete, // auto-deleted
		false,           // internal
		false,           // no-wait
		amqp.Table(spec.args()),
	)
}

func declareQueue(ch *amqp.Channel, spec QueueSpec) (string, error) {
	q, err := ch.QueueDeclare(
		spec.Name,       // name
		spec.Durable,    // durable
		spec.AutoDelete, // delete when unused
		spec.Exclusive,  // exclusive
		false,           // no-wait
		amqp.Table(spec.args()),
	)
	if err != nil {
		return "", err
	}
	return q.Name, nil
}

func bindQueue(ch *amqp.Channel, b Binding) error {
	return ch.QueueBind(
		b.Queue,      // queue name
		b.RoutingKey, // routing key
		b.Exchange,   // exchange
		false,
		nil,
	)
}

func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, payload any, opts ...PublishOption) error {
	msg, err := NewMessage(payload, opts...)
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err}
	}

	ch := r.channel()
	if ch == nil {
		r.metrics.Published(exchange, ErrChannelNotReady)
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: ErrChannelNotReady}
	}

	ctx, span := tracer.Start(ctx, "publish "+exchange,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		),
	)
	defer span.End()

	tracing.Inject(ctx, msg.Headers)

	err = ch.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		toPublishing(msg),
	)
	r.metrics.Published(exchange, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err}
	}
	return nil
}

func toPublishing(msg Message) amqp.Publishing {
	mode := amqp.Transient
	if msg.Persistent {
		mode = amqp.Persistent
	}
	return amqp.Publishing{
		Headers:       amqp.Table(msg.Headers),
		ContentType:   msg.ContentType,
		DeliveryMode:  mode,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Timestamp:     msg.Timestamp,
		Body:          msg.Body,
	}
}

func (r *RabbitMQ) Consume(ctx context.Context, queue string, handler Handler, opts ...ConsumeOption) error {
	o := newConsumeOptions(opts)
	if o.tag == "" {
		o.tag = queue + "." + uuid.NewString()
	}
	c := &consumer{ctx: ctx, queue: queue, handler: handler, opts: o}

	r.declMu.Lock()
	defer r.declMu.Unlock()

	ch := r.channel()
	if ch == nil {
		return ErrChannelNotReady
	}
	if err := r.startConsumer(ch, c); err != nil {
		return err
	}
	r.consumers[o.tag] = c
	return nil
}

func (r *RabbitMQ) startConsumer(ch *amqp.Channel, c *consumer) error {
	deliveries, err := ch.Consume(
		c.queue,          // queue
		c.opts.tag,       // consumer
		c.opts.autoAck,   // auto-ack
		c.opts.exclusive, // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-c.ctx.Done():
				ch.Cancel(c.opts.tag, false)
				r.declMu.Lock()
				delete(r.consumers, c.opts.tag)
				r.declMu.Unlock()
				return
			case d, ok := <-deliveries:
				if !ok {
					// Channel gone; the reconnect loop restarts this consumer.
					return
				}
				r.handle(c, d)
			}
		}
	}()
	return nil
}

func (r *RabbitMQ) handle(c *consumer, d amqp.Delivery) {
	ctx := tracing.Extract(c.ctx, map[string]any(d.Headers))
	ctx, span := tracer.Start(ctx, "consume "+c.queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.source.name", c.queue),
			attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
		),
	)
	defer span.End()

	err := invoke(ctx, c.handler, fromAMQP(d))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if c.opts.autoAck {
		r.metrics.Consumed(c.queue, "auto")
		if err != nil {
			r.logConsumeError(c.queue, d.RoutingKey, err)
		}
		return
	}

	if err != nil {
		r.logConsumeError(c.queue, d.RoutingKey, err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			r.logger.Error(logging.RabbitMQ, logging.Consume, "failed to nack message", map[logging.ExtraKey]any{
				logging.Queue:        c.queue,
				logging.ErrorMessage: nackErr.Error(),
			})
		}
		r.metrics.Consumed(c.queue, "nack")
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		r.logger.Error(logging.RabbitMQ, logging.Consume, "failed to ack message", map[logging.ExtraKey]any{
			logging.Queue:        c.queue,
			logging.ErrorMessage: ackErr.Error(),
		})
		return
	}
	r.metrics.Consumed(c.queue, "ack")
}

func (r *RabbitMQ) logConsumeError(queue, key string, err error) {
	r.logger.Warn(logging.RabbitMQ, logging.Consume, "handler failed, message dead-lettered", map[logging.ExtraKey]any{
		logging.Queue:        queue,
		logging.RoutingKey:   key,
		logging.ErrorMessage: err.Error(),
	})
}

func fromAMQP(d amqp.Delivery) Delivery {
	return Delivery{
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		Body:          d.Body,
		ContentType:   d.ContentType,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Headers:       map[string]any(d.Headers),
		Timestamp:     d.Timestamp,
		Redelivered:   d.Redelivered,
	}
}

// invoke runs h and turns a panic into an error.
func invoke(ctx context.Context, h Handler, d Delivery) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, d)
}

func (r *RabbitMQ) Close() error {
	r.cancel()
	r.teardown()
	r.wg.Wait()
	return nil
}
