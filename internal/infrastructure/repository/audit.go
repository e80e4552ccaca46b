package repository

import (
	"context"
	"sync"

	"github.com/hilthontt/visper-relay/internal/domain"
)

type roomAuditRepository struct {
	logs     map[string][]domain.RoomAuditLog
	capacity int
	mu       *sync.RWMutex
}

func NewRoomAuditRepository(capacity int) domain.RoomAuditRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &roomAuditRepository{
		logs:     make(map[string][]domain.RoomAuditLog),
		capacity: capacity,
		mu:       &sync.RWMutex{},
	}
}

func (r *roomAuditRepository) Log(ctx context.Context, log *domain.RoomAuditLog) error {
	if log == nil || log.RoomID == "" {
		return domain.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	logs := append(r.logs[log.RoomID], *log)
	if len(logs) > r.capacity {
		logs = logs[len(logs)-r.capacity:]
	}
	r.logs[log.RoomID] = logs
	return nil
}

// GetByRoomID returns the newest logs first.
func (r *roomAuditRepository) GetByRoomID(ctx context.Context, roomID string, limit int) ([]domain.RoomAuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	logs := r.logs[roomID]
	if limit <= 0 || limit > len(logs) {
		limit = len(logs)
	}
	out := make([]domain.RoomAuditLog, 0, limit)
	for i := len(logs) - 1; i >= len(logs)-limit; i-- {
		out = append(out, logs[i])
	}
	return out, nil
}

func (r *roomAuditRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}
