package messaging

import (
	"testing"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBrokerConfig() configs.BrokerConfig {
	return configs.BrokerConfig{
		ChatExchange:         "chat_exchange",
		NotificationExchange: "notification_exchange",
		MessageQueue:         "chat_message_queue",
		NotificationQueue:    "notification_queue",
		DeadLetterExchange:   "dlx",
		DeadLetterQueue:      "dead-letter-queue",
	}
}

func TestDefaultTopologyArguments(t *testing.T) {
	topo := DefaultTopology(testBrokerConfig())

	exchanges := map[string]ExchangeSpec{}
	for _, ex := range topo.Exchanges {
		exchanges[ex.Name] = ex
	}
	require.Len(t, exchanges, 3)
	assert.Equal(t, ExchangeFanout, exchanges["dlx"].Kind)
	assert.Nil(t, exchanges["dlx"].args())
	assert.Equal(t, ExchangeTopic, exchanges["chat_exchange"].Kind)
	assert.Equal(t, map[string]any{"alternate-exchange": "dlx"}, exchanges["chat_exchange"].args())
	assert.Equal(t, ExchangeFanout, exchanges["notification_exchange"].Kind)
	assert.Equal(t, map[string]any{"alternate-exchange": "dlx"}, exchanges["notification_exchange"].args())

	queues := map[string]QueueSpec{}
	for _, q := range topo.Queues {
		assert.True(t, q.Durable, q.Name)
		queues[q.Name] = q
	}

	assert.Equal(t, map[string]any{
		"x-dead-letter-exchange": "dlx",
		"x-message-ttl":          int32(24 * time.Hour / time.Millisecond),
		"x-max-length":           int32(10000),
	}, queues["chat_message_queue"].args())

	assert.Equal(t, map[string]any{
		"x-dead-letter-exchange": "dlx",
		"x-message-ttl":          int32(7 * 24 * time.Hour / time.Millisecond),
		"x-max-length":           int32(50000),
	}, queues["notification_queue"].args())

	assert.Equal(t, map[string]any{
		"x-message-ttl": int32(24 * time.Hour / time.Millisecond),
		"x-max-length":  int32(10000),
	}, queues["dead-letter-queue"].args())

	assert.ElementsMatch(t, []Binding{
		{Queue: "dead-letter-queue", Exchange: "dlx", RoutingKey: ""},
		{Queue: "chat_message_queue", Exchange: "chat_exchange", RoutingKey: "message.*"},
		{Queue: "notification_queue", Exchange: "notification_exchange", RoutingKey: ""},
	}, topo.Bindings)
}

func TestDeclareTopologyIsRepeatable(t *testing.T) {
	b := newTestBroker(t)
	topo := DefaultTopology(testBrokerConfig())

	require.NoError(t, DeclareTopology(t.Context(), b, topo))
	require.NoError(t, DeclareTopology(t.Context(), b, topo))

	assert.Len(t, b.exchanges["chat_exchange"].bindings, 1)
}
