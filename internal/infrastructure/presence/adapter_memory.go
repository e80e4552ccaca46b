package presence

import (
	"context"
	"errors"
	"sync"
)

var ErrAdapterClosed = errors.New("presence adapter closed")

// Hub connects MemoryAdapters living in one process. Delivery is synchronous
// and in publish order.
type Hub struct {
	mu       sync.RWMutex
	adapters map[*MemoryAdapter]struct{}
}

func NewHub() *Hub {
	return &Hub{adapters: make(map[*MemoryAdapter]struct{})}
}

func (h *Hub) broadcast(p Packet) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for a := range h.adapters {
		a.deliver(p)
	}
}

type MemoryAdapter struct {
	hub *Hub

	mu       sync.RWMutex
	handlers []func(Packet)
	closed   bool
}

func NewMemoryAdapter(hub *Hub) *MemoryAdapter {
	a := &MemoryAdapter{hub: hub}
	hub.mu.Lock()
	hub.adapters[a] = struct{}{}
	hub.mu.Unlock()
	return a
}

func (a *MemoryAdapter) Publish(_ context.Context, p Packet) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return ErrAdapterClosed
	}
	a.hub.broadcast(p)
	return nil
}

func (a *MemoryAdapter) Subscribe(_ context.Context, fn func(Packet)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAdapterClosed
	}
	a.handlers = append(a.handlers, fn)
	return nil
}

func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.handlers = nil
	a.mu.Unlock()

	a.hub.mu.Lock()
	delete(a.hub.adapters, a)
	a.hub.mu.Unlock()
	return nil
}

func (a *MemoryAdapter) deliver(p Packet) {
	a.mu.RLock()
	handlers := a.handlers
	a.mu.RUnlock()

	for _, fn := range handlers {
		fn(p)
	}
}
