package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/eventbus"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/repository"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
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

type emitCall struct {
	Kind   string
	Target string
	Except string
	Event  string
	Data   any
}

type recordingEmitter struct {
	mu    sync.Mutex
	calls []emitCall
}

func (e *recordingEmitter) record(c emitCall) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
	return nil
}

func (e *recordingEmitter) EmitToRoom(_ context.Context, roomID, event string, data any) error {
	return e.record(emitCall{Kind: "room", Target: roomID, Event: event, Data: data})
}

func (e *recordingEmitter) EmitToRoomExcept(_ context.Context, roomID, except, event string, data any) error {
	return e.record(emitCall{Kind: "room", Target: roomID, Except: except, Event: event, Data: data})
}

func (e *recordingEmitter) EmitToUser(_ context.Context, userID, event string, data any) error {
	return e.record(emitCall{Kind: "user", Target: userID, Event: event, Data: data})
}

func (e *recordingEmitter) snapshot() []emitCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitCall(nil), e.calls...)
}

func setup(t *testing.T) (*messaging.MemoryBroker, *eventbus.Bus) {
	t.Helper()
	broker := messaging.NewMemoryBroker(logging.NewNop())
	t.Cleanup(func() { broker.Close() })
	require.NoError(t, messaging.DeclareTopology(t.Context(), broker, messaging.DefaultTopology(brokerConfig)))

	policy := messaging.MessageQueuePolicy
	policy.DeadLetterExchange = "dlx"
	bus := eventbus.New(broker, eventbus.Config{
		Service:     "chat-service",
		InstanceID:  "a",
		Exchange:    "chat_exchange",
		QueuePolicy: policy,
	}, logging.NewNop(), nil)
	require.NoError(t, bus.Start(t.Context()))
	return broker, bus
}

func testMessage(t *testing.T) *domain.Message {
	t.Helper()
	sender, err := domain.NewHumanSender("u1", "Ada", "ada@example.com")
	require.NoError(t, err)
	msg, err := domain.NewMessage(domain.MessageDraft{RoomID: "r1", Sender: sender, Content: "hi"})
	require.NoError(t, err)
	return msg
}

func TestMessageCreatedFansOutToRoom(t *testing.T) {
	_, bus := setup(t)
	emitter := &recordingEmitter{}
	require.NoError(t, NewMessageConsumer(bus, emitter, logging.NewNop()).Listen(t.Context()))

	msg := testMessage(t)
	require.NoError(t, NewMessagePublisher(bus).PublishMessageCreated(t.Context(), msg))

	require.Eventually(t, func() bool { return len(emitter.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	calls := emitter.snapshot()

	assert.Equal(t, ws.Message, calls[0].Event)
	assert.Equal(t, "r1", calls[0].Target)
	assert.Equal(t, msg.ID, calls[0].Data.(domain.Message).ID)

	assert.Equal(t, ws.NewMessage, calls[1].Event)
	assert.Equal(t, "u1", calls[1].Except)
	assert.Equal(t, ws.NewMessagePayload{MessageID: msg.ID, RoomID: "r1", Sender: "u1"}, calls[1].Data)
}

func TestReactionUpdateFansOut(t *testing.T) {
	_, bus := setup(t)
	emitter := &recordingEmitter{}
	require.NoError(t, NewMessageConsumer(bus, emitter, logging.NewNop()).Listen(t.Context()))

	require.NoError(t, NewMessagePublisher(bus).PublishReactionUpdated(t.Context(), contracts.ReactionUpdatedEvent{
		MessageID: "m1",
		RoomID:    "r1",
		UserID:    "u2",
		Reaction:  "👍",
		Op:        domain.ReactionAdd,
		Reactions: map[string][]string{"👍": {"u2"}},
	}))

	require.Eventually(t, func() bool { return len(emitter.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	call := emitter.snapshot()[0]
	assert.Equal(t, ws.MessageReactionUpdate, call.Event)
	assert.Equal(t, ws.ReactionUpdatePayload{MessageID: "m1", Reactions: map[string][]string{"👍": {"u2"}}}, call.Data)
}

func TestMessageReadFansOut(t *testing.T) {
	_, bus := setup(t)
	emitter := &recordingEmitter{}
	require.NoError(t, NewMessageConsumer(bus, emitter, logging.NewNop()).Listen(t.Context()))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, NewMessagePublisher(bus).PublishMessageRead(t.Context(), contracts.MessageReadEvent{
		MessageID: "m1",
		RoomID:    "r1",
		UserID:    "u2",
		ReadAt:    at,
	}))

	require.Eventually(t, func() bool { return len(emitter.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	call := emitter.snapshot()[0]
	assert.Equal(t, ws.MessageRead, call.Event)
	assert.Equal(t, "r1", call.Target)
	payload := call.Data.(ws.MessageReadPayload)
	assert.Equal(t, "m1", payload.MessageID)
	assert.Equal(t, "u2", payload.UserID)
	assert.True(t, payload.Timestamp.Equal(at))
}

func TestMentionReachesUserThroughNotificationQueue(t *testing.T) {
	broker, bus := setup(t)
	emitter := &recordingEmitter{}
	require.NoError(t, NewNotificationConsumer(broker, "notification_queue", emitter, logging.NewNop()).Listen(t.Context()))

	mentions := make(chan messaging.Delivery, 1)
	require.NoError(t, bus.Subscribe(t.Context(), contracts.EventMentionCreated, func(_ context.Context, d messaging.Delivery) error {
		mentions <- d
		return nil
	}))

	n := domain.NewMentionNotification("u2", testMessage(t))
	require.NoError(t, NewNotificationPublisher(broker, "notification_exchange", bus).PublishMention(t.Context(), n))

	require.Eventually(t, func() bool { return len(emitter.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	call := emitter.snapshot()[0]
	assert.Equal(t, "user", call.Kind)
	assert.Equal(t, "u2", call.Target)
	assert.Equal(t, ws.NewNotification, call.Event)

	select {
	case d := <-mentions:
		var event contracts.MentionCreatedEvent
		require.NoError(t, d.Decode(&event))
		assert.Equal(t, "u2", event.Notification.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("mention.created not published")
	}
}

func TestAuditConsumerRecordsRoomActivity(t *testing.T) {
	broker, bus := setup(t)
	audit := repository.NewRoomAuditRepository(100)
	require.NoError(t, NewAuditConsumer(broker, "chat_message_queue", audit, logging.NewNop()).Listen(t.Context()))

	msg := testMessage(t)
	publisher := NewMessagePublisher(bus)
	require.NoError(t, publisher.PublishMessageCreated(t.Context(), msg))
	require.NoError(t, publisher.PublishReactionUpdated(t.Context(), contracts.ReactionUpdatedEvent{
		MessageID: msg.ID, RoomID: "r1", UserID: "u2", Reaction: "🎉", Op: domain.ReactionAdd,
	}))

	require.Eventually(t, func() bool {
		logs, err := audit.GetByRoomID(t.Context(), "r1", 10)
		return err == nil && len(logs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	logs, err := audit.GetByRoomID(t.Context(), "r1", 10)
	require.NoError(t, err)
	kinds := []domain.RoomEventType{logs[0].EventType, logs[1].EventType}
	assert.ElementsMatch(t, []domain.RoomEventType{domain.EventMessagePersisted, domain.EventReactionUpdated}, kinds)
	assert.Equal(t, 0, broker.QueueLen("dead-letter-queue"))
}
