package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
)

type storedNotification struct {
	notification domain.Notification
	expiresAt    time.Time
}

// notificationStore keeps notifications per user until their TTL passes.
type notificationStore struct {
	items map[string]map[string]storedNotification // userID -> messageID -> notification
	mu    *sync.Mutex
	now   func() time.Time
}

func NewNotificationStore() domain.NotificationStore {
	return &notificationStore{
		items: make(map[string]map[string]storedNotification),
		mu:    &sync.Mutex{},
		now:   time.Now,
	}
}

func (s *notificationStore) Save(ctx context.Context, n domain.Notification, ttl time.Duration) error {
	if n.UserID == "" || n.MessageID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	userItems, ok := s.items[n.UserID]
	if !ok {
		userItems = make(map[string]storedNotification)
		s.items[n.UserID] = userItems
	}
	userItems[n.MessageID] = storedNotification{notification: n, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *notificationStore) ListByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []domain.Notification
	for id, item := range s.items[userID] {
		if now.After(item.expiresAt) {
			delete(s.items[userID], id)
			continue
		}
		out = append(out, item.notification)
	}
	if len(s.items[userID]) == 0 {
		delete(s.items, userID)
	}
	return out, nil
}
