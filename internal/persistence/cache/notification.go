package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// NotificationStore keeps notifications under notification:<user>:<message>
// with a TTL.
type NotificationStore struct {
	redis     redis.UniversalClient
	keyPrefix string
}

func NewNotificationStore(client redis.UniversalClient, keyPrefix string) *NotificationStore {
	return &NotificationStore{
		redis:     client,
		keyPrefix: keyPrefix,
	}
}

func (s *NotificationStore) key(userID, messageID string) string {
	return fmt.Sprintf("%snotification:%s:%s", s.keyPrefix, userID, messageID)
}

func (s *NotificationStore) Save(ctx context.Context, n domain.Notification, ttl time.Duration) error {
	if n.UserID == "" || n.MessageID == "" {
		return domain.ErrInvalidInput
	}

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.key(n.UserID, n.MessageID), data, ttl).Err()
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	var out []domain.Notification

	iter := s.redis.Scan(ctx, 0, s.key(userID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Expired between SCAN and GET.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}

		var n domain.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("failed to decode notification %s: %w", iter.Val(), err)
		}
		out = append(out, n)
	}

	return out, iter.Err()
}
