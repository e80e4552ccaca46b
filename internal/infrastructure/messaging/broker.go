package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ExchangeTopic  = "topic"
	ExchangeFanout = "fanout"
	ExchangeDirect = "direct"

	// DefaultExchange routes by queue name.
	DefaultExchange = ""

	HeaderService = "service"
	HeaderEvent   = "event"

	contentTypeJSON = "application/json"
)

// Delivery is a message handed to a consumer.
type Delivery struct {
	Exchange      string
	RoutingKey    string
	Body          []byte
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Headers       map[string]any
	Timestamp     time.Time
	Redelivered   bool
}

// Decode unmarshals the JSON body into v.
func (d Delivery) Decode(v any) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("failed to decode delivery %s/%s: %w", d.Exchange, d.RoutingKey, err)
	}
	return nil
}

// Header returns a string header or "".
func (d Delivery) Header(key string) string {
	if v, ok := d.Headers[key].(string); ok {
		return v
	}
	return ""
}

// Handler processes one delivery. A nil return acks it, an error nacks it
// without requeue.
type Handler func(ctx context.Context, d Delivery) error

type Declarer interface {
	DeclareExchange(ctx context.Context, spec ExchangeSpec) error
	DeclareQueue(ctx context.Context, spec QueueSpec) (string, error)
	BindQueue(ctx context.Context, b Binding) error
}

type Broker interface {
	Declarer

	Publish(ctx context.Context, exchange, routingKey string, payload any, opts ...PublishOption) error

	// Consume starts delivering queue to handler and returns once the
	// consumer is registered. It stops when ctx is done or the broker closes.
	Consume(ctx context.Context, queue string, handler Handler, opts ...ConsumeOption) error

	Close() error
}

// Message is the envelope put on the wire.
type Message struct {
	Body          []byte
	ContentType   string
	Persistent    bool
	Timestamp     time.Time
	Headers       map[string]any
	CorrelationID string
	ReplyTo       string
}

type PublishOption func(*Message)

func WithCorrelationID(id string) PublishOption {
	return func(m *Message) { m.CorrelationID = id }
}

func WithReplyTo(queue string) PublishOption {
	return func(m *Message) { m.ReplyTo = queue }
}

func WithHeader(key string, value any) PublishOption {
	return func(m *Message) { m.Headers[key] = value }
}

// Transient publishes without disk persistence. Used for RPC traffic.
func Transient() PublishOption {
	return func(m *Message) { m.Persistent = false }
}

// NewMessage encodes payload. []byte and json.RawMessage are sent as is.
func NewMessage(payload any, opts ...PublishOption) (Message, error) {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case json.RawMessage:
		body = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encode payload: %w", err)
		}
		body = b
	}

	msg := Message{
		Body:        body,
		ContentType: contentTypeJSON,
		Persistent:  true,
		Timestamp:   time.Now().UTC(),
		Headers:     make(map[string]any),
	}
	for _, opt := range opts {
		opt(&msg)
	}
	return msg, nil
}

type consumeOptions struct {
	autoAck   bool
	exclusive bool
	tag       string
}

type ConsumeOption func(*consumeOptions)

// AutoAck lets the broker consider deliveries acked on send.
func AutoAck() ConsumeOption {
	return func(o *consumeOptions) { o.autoAck = true }
}

func Exclusive() ConsumeOption {
	return func(o *consumeOptions) { o.exclusive = true }
}

func WithConsumerTag(tag string) ConsumeOption {
	return func(o *consumeOptions) { o.tag = tag }
}

func newConsumeOptions(opts []ConsumeOption) consumeOptions {
	var o consumeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
