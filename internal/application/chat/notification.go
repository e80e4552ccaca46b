package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
)

const DefaultNotificationTTL = 24 * time.Hour

type NotificationPublisher interface {
	PublishMention(ctx context.Context, n domain.Notification) error
}

type NotificationService struct {
	store     domain.NotificationStore
	publisher NotificationPublisher
	ttl       time.Duration
	logger    logging.Logger
}

func NewNotificationService(store domain.NotificationStore, publisher NotificationPublisher, ttl time.Duration, logger logging.Logger) *NotificationService {
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	return &NotificationService{store: store, publisher: publisher, ttl: ttl, logger: logger}
}

// CreateMentionNotifications stores and publishes one notification per
// mentioned user. A failure for one user does not skip the others.
func (s *NotificationService) CreateMentionNotifications(ctx context.Context, message *domain.Message) error {
	var errs []error
	for _, userID := range message.Mentions {
		n := domain.NewMentionNotification(userID, message)
		if err := s.store.Save(ctx, n, s.ttl); err != nil {
			errs = append(errs, fmt.Errorf("store notification for %s: %w", userID, err))
			continue
		}
		if err := s.publisher.PublishMention(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("publish notification for %s: %w", userID, err))
			continue
		}
		s.logger.Debug(logging.Internal, logging.Insert, "mention notification created", map[logging.ExtraKey]any{
			logging.UserID:    userID,
			logging.MessageID: message.ID,
		})
	}
	return errors.Join(errs...)
}

func (s *NotificationService) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	return s.store.ListByUser(ctx, userID)
}
