package domain

import (
	"context"
	"time"
)

type NotificationType string

const NotificationMention NotificationType = "mention"

type Notification struct {
	Type      NotificationType `json:"type"`
	UserID    string           `json:"userId"`
	MessageID string           `json:"messageId"`
	RoomID    string           `json:"roomId"`
	SenderID  string           `json:"senderId"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewMentionNotification(userID string, m *Message) Notification {
	return Notification{
		Type:      NotificationMention,
		UserID:    userID,
		MessageID: m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.Sender.ID,
		Content:   m.Content,
		Timestamp: time.Now().UTC(),
	}
}

type NotificationStore interface {
	Save(ctx context.Context, n Notification, ttl time.Duration) error
	ListByUser(ctx context.Context, userID string) ([]Notification, error)
}
