package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/redis/go-redis/v9"
)

// RedisAdapter broadcasts over a pub/sub channel. go-redis resubscribes on
// its own after a dropped connection.
type RedisAdapter struct {
	client  redis.UniversalClient
	channel string
	logger  logging.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisAdapter(client redis.UniversalClient, channel string, logger logging.Logger) *RedisAdapter {
	return &RedisAdapter{client: client, channel: channel, logger: logger}
}

func (a *RedisAdapter) Publish(ctx context.Context, p Packet) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	return a.client.Publish(ctx, a.channel, body).Err()
}

func (a *RedisAdapter) Subscribe(ctx context.Context, fn func(Packet)) error {
	ps := a.client.Subscribe(ctx, a.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", a.channel, err)
	}

	a.mu.Lock()
	a.pubsub = ps
	a.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			var p Packet
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				a.logger.Warn(logging.Redis, logging.FanOut, "dropping undecodable packet", map[logging.ExtraKey]any{
					logging.Topic:        a.channel,
					logging.ErrorMessage: err.Error(),
				})
				continue
			}
			fn(p)
		}
	}()
	return nil
}

func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pubsub == nil {
		return nil
	}
	err := a.pubsub.Close()
	a.pubsub = nil
	return err
}
