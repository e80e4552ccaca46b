package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brokerConfig = configs.BrokerConfig{
	ChatExchange:         "chat_exchange",
	NotificationExchange: "notification_exchange",
	MessageQueue:         "chat_message_queue",
	NotificationQueue:    "notification_queue",
	DeadLetterExchange:   "dlx",
	DeadLetterQueue:      "dead-letter-queue",
}

func newBroker(t *testing.T) *messaging.MemoryBroker {
	t.Helper()
	b := messaging.NewMemoryBroker(logging.NewNop())
	t.Cleanup(func() { b.Close() })
	require.NoError(t, messaging.DeclareTopology(t.Context(), b, messaging.DefaultTopology(brokerConfig)))
	return b
}

func newBus(t *testing.T, broker messaging.Broker, service, instance string) *Bus {
	t.Helper()
	policy := messaging.MessageQueuePolicy
	policy.DeadLetterExchange = "dlx"

	bus := New(broker, Config{
		Service:     service,
		InstanceID:  instance,
		Exchange:    "chat_exchange",
		QueuePolicy: policy,
	}, logging.NewNop(), nil)
	require.NoError(t, bus.Start(t.Context()))
	return bus
}

func TestRequestReceivesCorrelatedReply(t *testing.T) {
	broker := newBroker(t)
	caller := newBus(t, broker, "chat-service", "a")
	auth := newBus(t, broker, "auth-service", "x")

	require.NoError(t, auth.Handle(t.Context(), contracts.RPCValidateToken, func(_ context.Context, d messaging.Delivery) (any, error) {
		var req contracts.ValidateTokenRequest
		if err := d.Decode(&req); err != nil {
			return nil, err
		}
		if req.Token != "good" {
			return contracts.ValidateTokenReply{Success: false}, nil
		}
		return contracts.ValidateTokenReply{
			Success: true,
			User:    &contracts.AuthUser{ID: "u1", Name: "alice", Email: "alice@example.com"},
		}, nil
	}))

	var reply contracts.ValidateTokenReply
	err := caller.RequestInto(t.Context(), contracts.RPCValidateToken,
		contracts.ValidateTokenRequest{Token: "good", SessionID: "s1"}, &reply)
	require.NoError(t, err)
	assert.True(t, reply.Success)
	require.NotNil(t, reply.User)
	assert.Equal(t, "u1", reply.User.ID)

	err = caller.RequestInto(t.Context(), contracts.RPCValidateToken,
		contracts.ValidateTokenRequest{Token: "bad"}, &reply)
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Zero(t, caller.pendingLen())
}

func TestRequestTimesOutWithoutResponder(t *testing.T) {
	broker := newBroker(t)
	caller := newBus(t, broker, "chat-service", "a")

	start := time.Now()
	_, err := caller.Request(t.Context(), contracts.RPCValidateRoomAccess,
		contracts.ValidateAccessRequest{RoomID: "r1", UserID: "u1"}, WithTimeout(50*time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	var timeoutErr *RequestTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, contracts.RPCValidateRoomAccess, timeoutErr.Topic)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, caller.pendingLen())
}

func TestLateReplyIsDropped(t *testing.T) {
	broker := newBroker(t)
	caller := newBus(t, broker, "chat-service", "a")
	room := newBus(t, broker, "room-service", "x")

	replied := make(chan struct{})
	require.NoError(t, room.Handle(t.Context(), contracts.RPCValidateRoomAccess, func(context.Context, messaging.Delivery) (any, error) {
		time.Sleep(100 * time.Millisecond)
		defer close(replied)
		return contracts.ValidateAccessReply{Success: true}, nil
	}))

	_, err := caller.Request(t.Context(), contracts.RPCValidateRoomAccess,
		contracts.ValidateAccessRequest{RoomID: "r1"}, WithTimeout(20*time.Millisecond))
	require.ErrorIs(t, err, ErrRequestTimeout)

	<-replied
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, caller.pendingLen())
	assert.Zero(t, broker.QueueLen(caller.ReplyQueue()))
}

func TestCorrelationIDsIncrease(t *testing.T) {
	broker := newBroker(t)
	caller := newBus(t, broker, "chat-service", "a")
	server := newBus(t, broker, "echo-service", "x")

	var mu sync.Mutex
	var seen []string
	require.NoError(t, server.Handle(t.Context(), "echo.ping", func(_ context.Context, d messaging.Delivery) (any, error) {
		mu.Lock()
		seen = append(seen, d.CorrelationID)
		mu.Unlock()
		assert.Equal(t, caller.ReplyQueue(), d.ReplyTo)
		return map[string]string{"id": d.CorrelationID}, nil
	}))

	for i := 0; i < 3; i++ {
		body, err := caller.Request(t.Context(), "echo.ping", map[string]int{"i": i})
		require.NoError(t, err)

		var got map[string]string
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, seen[len(seen)-1], got["id"])
	}

	require.Len(t, seen, 3)
	prev := uint64(0)
	for _, id := range seen {
		n, err := strconv.ParseUint(id, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestResponderErrorIsReplied(t *testing.T) {
	broker := newBroker(t)
	caller := newBus(t, broker, "chat-service", "a")
	server := newBus(t, broker, "room-service", "x")

	require.NoError(t, server.Handle(t.Context(), contracts.RPCValidateRoomAccess, func(context.Context, messaging.Delivery) (any, error) {
		return nil, errors.New("room does not exist")
	}))

	var reply contracts.ValidateAccessReply
	require.NoError(t, caller.RequestInto(t.Context(), contracts.RPCValidateRoomAccess,
		contracts.ValidateAccessRequest{RoomID: "nope"}, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "room does not exist", reply.Error)
}

func TestRequestBeforeStart(t *testing.T) {
	bus := New(newBroker(t), Config{Service: "chat-service", InstanceID: "a", Exchange: "chat_exchange"}, logging.NewNop(), nil)

	_, err := bus.Request(context.Background(), "auth.validate_token", nil)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRequestHonoursContext(t *testing.T) {
	broker := newBroker(t)
	caller := newBus(t, broker, "chat-service", "a")

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := caller.Request(ctx, "nobody.home", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, caller.pendingLen())
}

func TestSubscribeDeliversAndDeadLettersFailures(t *testing.T) {
	broker := newBroker(t)
	bus := newBus(t, broker, "chat-service", "a")

	got := make(chan contracts.MessageCreatedEvent, 1)
	require.NoError(t, bus.Subscribe(t.Context(), contracts.EventMessageCreated, func(_ context.Context, d messaging.Delivery) error {
		var ev contracts.MessageCreatedEvent
		assert.NoError(t, d.Decode(&ev))
		assert.Equal(t, "chat-service", d.Header(messaging.HeaderService))
		assert.Equal(t, contracts.EventMessageCreated, d.Header(messaging.HeaderEvent))
		got <- ev
		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context(), contracts.EventMentionCreated, func(context.Context, messaging.Delivery) error {
		return errors.New("downstream unavailable")
	}))

	ev := contracts.MessageCreatedEvent{}
	ev.Message.ID = "m1"
	ev.Message.RoomID = "r1"
	require.NoError(t, bus.Publish(t.Context(), contracts.EventMessageCreated, ev))

	select {
	case received := <-got:
		assert.Equal(t, "r1", received.Message.RoomID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message.created")
	}

	require.NoError(t, bus.Publish(t.Context(), contracts.EventMentionCreated, map[string]string{"userId": "u2"}))
	assert.Eventually(t, func() bool {
		return broker.QueueLen("dead-letter-queue") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &HandlerError{Topic: "message.created", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "message.created")
}
