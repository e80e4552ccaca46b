package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
)

// Oldest messages are evicted when a room exceeds capacity.
type messageRepository struct {
	messages map[string][]*domain.Message // roomID -> messages, oldest first
	byID     map[string]*domain.Message
	capacity uint
	mu       *sync.RWMutex
}

func NewMessageRepository(capacity uint) domain.MessageRepository {
	if capacity == 0 {
		capacity = 100 // sane default
	}
	return &messageRepository{
		capacity: capacity,
		messages: make(map[string][]*domain.Message),
		byID:     make(map[string]*domain.Message),
		mu:       &sync.RWMutex{},
	}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	if message == nil || message.ID == "" || message.RoomID == "" {
		return domain.ErrInvalidInput
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	stored := clone(message)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Replaying the same id overwrites in place.
	if existing, ok := r.byID[message.ID]; ok {
		*existing = *stored
		return nil
	}

	roomMsgs := append(r.messages[message.RoomID], stored)
	if len(roomMsgs) > int(r.capacity) {
		excess := len(roomMsgs) - int(r.capacity)
		for _, evicted := range roomMsgs[:excess] {
			delete(r.byID, evicted.ID)
		}
		roomMsgs = roomMsgs[excess:] // drop oldest
	}

	r.messages[message.RoomID] = roomMsgs
	r.byID[message.ID] = stored
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return clone(msg), nil
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]domain.Message, bool, error) {
	if roomID == "" {
		return nil, false, domain.ErrInvalidInput
	}
	if limit <= 0 {
		limit = 30
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	roomMsgs := r.messages[roomID]
	end := len(roomMsgs)
	if !before.IsZero() {
		end, _ = slices.BinarySearchFunc(roomMsgs, before, func(m *domain.Message, t time.Time) int {
			return m.CreatedAt.Compare(t)
		})
	}
	start := max(0, end-limit)

	out := make([]domain.Message, 0, end-start)
	for _, m := range roomMsgs[start:end] {
		out = append(out, *clone(m))
	}
	return out, start > 0, nil
}

func (r *messageRepository) ApplyReaction(ctx context.Context, messageID, emoji, userID string, op domain.ReactionOp) (*domain.Message, error) {
	if emoji == "" || userID == "" {
		return nil, domain.ErrInvalidReaction
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.byID[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	msg.ApplyReaction(emoji, userID, op)
	return clone(msg), nil
}

func (r *messageRepository) MarkRead(ctx context.Context, messageID, userID string, at time.Time) (*domain.Message, bool, error) {
	if userID == "" {
		return nil, false, domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.byID[messageID]
	if !ok {
		return nil, false, domain.ErrMessageNotFound
	}
	changed := msg.MarkRead(userID, at)
	return clone(msg), changed, nil
}

func clone(m *domain.Message) *domain.Message {
	cpy := *m
	cpy.Mentions = slices.Clone(m.Mentions)
	cpy.ReadBy = slices.Clone(m.ReadBy)
	cpy.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		cpy.Reactions[emoji] = slices.Clone(users)
	}
	if m.File != nil {
		f := *m.File
		cpy.File = &f
	}
	return &cpy
}
