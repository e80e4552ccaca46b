package repository

import (
	"context"
	"sync"

	"github.com/hilthontt/visper-relay/internal/domain"
)

// UserStore keeps users seen through socket authentication.
type UserStore struct {
	users map[string]domain.User
	mu    *sync.RWMutex
}

func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]domain.User),
		mu:    &sync.RWMutex{},
	}
}

func (r *UserStore) Save(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return domain.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *UserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

type FileStore struct {
	files map[string]domain.File
	mu    *sync.RWMutex
}

func NewFileStore() *FileStore {
	return &FileStore{
		files: make(map[string]domain.File),
		mu:    &sync.RWMutex{},
	}
}

func (r *FileStore) Save(ctx context.Context, file domain.File) error {
	if file.ID == "" {
		return domain.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[file.ID] = file
	return nil
}

func (r *FileStore) GetByID(ctx context.Context, id string) (*domain.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, ok := r.files[id]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return &file, nil
}
