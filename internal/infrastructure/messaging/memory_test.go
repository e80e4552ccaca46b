package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *MemoryBroker {
	t.Helper()
	b := NewMemoryBroker(logging.NewNop())
	t.Cleanup(func() { b.Close() })
	return b
}

func newTopologyBroker(t *testing.T) *MemoryBroker {
	t.Helper()
	b := newTestBroker(t)
	require.NoError(t, DeclareTopology(t.Context(), b, DefaultTopology(testBrokerConfig())))
	return b
}

func TestMessageCreatedReceivedOnce(t *testing.T) {
	b := newTopologyBroker(t)
	ctx := t.Context()

	var count atomic.Int32
	got := make(chan Delivery, 4)
	require.NoError(t, b.Consume(ctx, "chat_message_queue", func(_ context.Context, d Delivery) error {
		count.Add(1)
		got <- d
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "chat_exchange", "message.created", map[string]string{"roomId": "r1"}))

	select {
	case d := <-got:
		assert.Equal(t, "message.created", d.RoutingKey)
		var body map[string]string
		require.NoError(t, d.Decode(&body))
		assert.Equal(t, "r1", body["roomId"])
		assert.False(t, d.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("delivery not received")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestNackDeadLetters(t *testing.T) {
	b := newTopologyBroker(t)
	ctx := t.Context()

	require.NoError(t, b.Consume(ctx, "chat_message_queue", func(context.Context, Delivery) error {
		return errors.New("boom")
	}))

	dead := make(chan Delivery, 1)
	require.NoError(t, b.Consume(ctx, "dead-letter-queue", func(_ context.Context, d Delivery) error {
		dead <- d
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "chat_exchange", "message.created", []byte(`{"id":"m1"}`)))

	select {
	case d := <-dead:
		assert.Equal(t, "message.created", d.RoutingKey)
		assert.JSONEq(t, `{"id":"m1"}`, string(d.Body))
		assert.Equal(t, "chat_message_queue", d.Header("x-first-death-queue"))
	case <-time.After(time.Second):
		t.Fatal("message was not dead-lettered")
	}
}

func TestPanickingHandlerDeadLetters(t *testing.T) {
	b := newTopologyBroker(t)
	ctx := t.Context()

	require.NoError(t, b.Consume(ctx, "chat_message_queue", func(context.Context, Delivery) error {
		panic("bad payload")
	}))

	require.NoError(t, b.Publish(ctx, "chat_exchange", "message.created", []byte(`{}`)))

	assert.Eventually(t, func() bool {
		return b.QueueLen("dead-letter-queue") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestUnroutableGoesToAlternateExchange(t *testing.T) {
	b := newTopologyBroker(t)

	require.NoError(t, b.Publish(t.Context(), "chat_exchange", "room.deleted", []byte(`{}`)))

	assert.Equal(t, 0, b.QueueLen("chat_message_queue"))
	assert.Equal(t, 1, b.QueueLen("dead-letter-queue"))
}

func TestFanoutReachesEveryQueue(t *testing.T) {
	b := newTestBroker(t)
	ctx := t.Context()

	require.NoError(t, b.DeclareExchange(ctx, ExchangeSpec{Name: "presence", Kind: ExchangeFanout}))
	for _, name := range []string{"presence.a", "presence.b"} {
		_, err := b.DeclareQueue(ctx, QueueSpec{Name: name, Exclusive: true})
		require.NoError(t, err)
		require.NoError(t, b.BindQueue(ctx, Binding{Queue: name, Exchange: "presence"}))
	}

	require.NoError(t, b.Publish(ctx, "presence", "", []byte(`{}`)))

	assert.Equal(t, 1, b.QueueLen("presence.a"))
	assert.Equal(t, 1, b.QueueLen("presence.b"))
}

func TestDefaultExchangeRoutesByQueueName(t *testing.T) {
	b := newTestBroker(t)
	ctx := t.Context()

	_, err := b.DeclareQueue(ctx, QueueSpec{Name: "chat-service.reply.1", Exclusive: true, AutoDelete: true})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, DefaultExchange, "chat-service.reply.1", []byte(`{}`),
		WithCorrelationID("7"), Transient()))

	assert.Equal(t, 1, b.QueueLen("chat-service.reply.1"))
}

func TestPublishUnknownExchange(t *testing.T) {
	b := newTestBroker(t)

	err := b.Publish(t.Context(), "missing", "key", []byte(`{}`))

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "missing", pubErr.Exchange)
	assert.ErrorIs(t, err, ErrExchangeNotFound)
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := NewMemoryBroker(logging.NewNop())
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "chat_exchange", "message.created", []byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestExclusiveQueueRemovedWithConsumer(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(t.Context())

	_, err := b.DeclareQueue(ctx, QueueSpec{Name: "reply", Exclusive: true})
	require.NoError(t, err)
	require.NoError(t, b.Consume(ctx, "reply", func(context.Context, Delivery) error { return nil }, Exclusive()))

	err = b.Consume(ctx, "reply", func(context.Context, Delivery) error { return nil }, Exclusive())
	require.Error(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		_, ok := b.queues["reply"]
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNewMessageDefaults(t *testing.T) {
	msg, err := NewMessage(map[string]int{"n": 1}, WithHeader(HeaderEvent, "message.created"))
	require.NoError(t, err)

	assert.True(t, msg.Persistent)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.JSONEq(t, `{"n":1}`, string(msg.Body))
	assert.Equal(t, "message.created", msg.Headers[HeaderEvent])
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)

	raw, err := NewMessage([]byte("raw"), Transient())
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), raw.Body)
	assert.False(t, raw.Persistent)
}
