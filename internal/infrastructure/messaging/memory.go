package messaging

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/tracing"
)

const memoryQueueBuffer = 1024

// MemoryBroker is an in-process Broker with AMQP routing rules: topic
// wildcards, fanout, the default exchange, alternate exchanges and
// dead-lettering on nack or overflow. Message TTLs are not enforced.
type MemoryBroker struct {
	logger logging.Logger

	mu        sync.RWMutex
	exchanges map[string]*memExchange
	queues    map[string]*memQueue
	done      chan struct{}
	closed    bool

	wg sync.WaitGroup
}

type memExchange struct {
	spec     ExchangeSpec
	bindings []Binding
}

type memQueue struct {
	spec      QueueSpec
	messages  chan Delivery
	consumers int
}

func NewMemoryBroker(logger logging.Logger) *MemoryBroker {
	return &MemoryBroker{
		logger:    logger,
		exchanges: make(map[string]*memExchange),
		queues:    make(map[string]*memQueue),
		done:      make(chan struct{}),
	}
}

func (b *MemoryBroker) DeclareExchange(_ context.Context, spec ExchangeSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if ex, ok := b.exchanges[spec.Name]; ok {
		if ex.spec.Kind != spec.Kind {
			return fmt.Errorf("exchange %s already declared as %s", spec.Name, ex.spec.Kind)
		}
		return nil
	}
	b.exchanges[spec.Name] = &memExchange{spec: spec}
	return nil
}

func (b *MemoryBroker) DeclareQueue(_ context.Context, spec QueueSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}
	if _, ok := b.queues[spec.Name]; ok {
		return spec.Name, nil
	}

	size := memoryQueueBuffer
	if spec.Policy.MaxLength > 0 && spec.Policy.MaxLength < size {
		size = spec.Policy.MaxLength
	}
	b.queues[spec.Name] = &memQueue{spec: spec, messages: make(chan Delivery, size)}
	return spec.Name, nil
}

func (b *MemoryBroker) BindQueue(_ context.Context, binding Binding) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	ex, ok := b.exchanges[binding.Exchange]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExchangeNotFound, binding.Exchange)
	}
	if _, ok := b.queues[binding.Queue]; !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, binding.Queue)
	}
	for _, existing := range ex.bindings {
		if existing == binding {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, binding)
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, exchange, routingKey string, payload any, opts ...PublishOption) error {
	msg, err := NewMessage(payload, opts...)
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err}
	}
	tracing.Inject(ctx, msg.Headers)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: ErrClosed}
	}

	d := Delivery{
		Exchange:      exchange,
		RoutingKey:    routingKey,
		Body:          msg.Body,
		ContentType:   msg.ContentType,
		CorrelationID: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Headers:       msg.Headers,
		Timestamp:     msg.Timestamp,
	}

	if exchange == DefaultExchange {
		if q, ok := b.queues[routingKey]; ok {
			b.enqueue(q, d)
		}
		return nil
	}

	if _, ok := b.exchanges[exchange]; !ok {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: ErrExchangeNotFound}
	}
	b.route(exchange, d, 0)
	return nil
}

// route delivers d to every queue bound to exchange, falling back to the
// alternate exchange when nothing matches. Caller holds b.mu.
func (b *MemoryBroker) route(exchange string, d Delivery, depth int) {
	ex, ok := b.exchanges[exchange]
	if !ok || depth > 4 {
		return
	}

	matched := false
	seen := make(map[string]bool, len(ex.bindings))
	for _, binding := range ex.bindings {
		if seen[binding.Queue] || !routes(ex.spec.Kind, binding.RoutingKey, d.RoutingKey) {
			continue
		}
		q, ok := b.queues[binding.Queue]
		if !ok {
			continue
		}
		seen[binding.Queue] = true
		matched = true
		b.enqueue(q, d)
	}

	if !matched && ex.spec.AlternateExchange != "" {
		b.route(ex.spec.AlternateExchange, d, depth+1)
	}
}

func (b *MemoryBroker) enqueue(q *memQueue, d Delivery) {
	d.Headers = maps.Clone(d.Headers)
	select {
	case q.messages <- d:
	default:
		b.logger.Warn(logging.RabbitMQ, logging.Publish, "queue full, dead-lettering", map[logging.ExtraKey]any{
			logging.Queue:      q.spec.Name,
			logging.RoutingKey: d.RoutingKey,
		})
		b.deadLetter(q, d)
	}
}

// deadLetter republishes d to the queue's dead-letter exchange keeping the
// original routing key. Caller holds b.mu.
func (b *MemoryBroker) deadLetter(q *memQueue, d Delivery) {
	dlx := q.spec.Policy.DeadLetterExchange
	if dlx == "" {
		return
	}
	if d.Headers == nil {
		d.Headers = make(map[string]any)
	}
	d.Headers["x-first-death-queue"] = q.spec.Name
	d.Headers["x-first-death-exchange"] = d.Exchange
	b.route(dlx, d, 1)
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string, handler Handler, opts ...ConsumeOption) error {
	o := newConsumeOptions(opts)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	if o.exclusive && q.consumers > 0 {
		b.mu.Unlock()
		return fmt.Errorf("queue %s already has an exclusive consumer", queue)
	}
	q.consumers++
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.release(q)

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case d := <-q.messages:
				b.handle(ctx, q, handler, o, d)
			}
		}
	}()
	return nil
}

func (b *MemoryBroker) handle(ctx context.Context, q *memQueue, handler Handler, o consumeOptions, d Delivery) {
	err := invoke(tracing.Extract(ctx, d.Headers), handler, d)
	if err == nil {
		return
	}

	b.logger.Warn(logging.RabbitMQ, logging.Consume, "handler failed, message dead-lettered", map[logging.ExtraKey]any{
		logging.Queue:        q.spec.Name,
		logging.RoutingKey:   d.RoutingKey,
		logging.ErrorMessage: err.Error(),
	})
	if o.autoAck {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.closed {
		b.deadLetter(q, d)
	}
}

// release drops a consumer and deletes auto-delete or exclusive queues once
// nobody reads them.
func (b *MemoryBroker) release(q *memQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q.consumers--
	if q.consumers > 0 || !(q.spec.AutoDelete || q.spec.Exclusive) {
		return
	}
	if b.queues[q.spec.Name] != q {
		return
	}
	delete(b.queues, q.spec.Name)
	for _, ex := range b.exchanges {
		kept := ex.bindings[:0]
		for _, binding := range ex.bindings {
			if binding.Queue != q.spec.Name {
				kept = append(kept, binding)
			}
		}
		ex.bindings = kept
	}
}

// QueueLen reports how many messages wait in queue.
func (b *MemoryBroker) QueueLen(queue string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.messages)
	}
	return 0
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
