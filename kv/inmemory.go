package kv

import (
	"context"
	"slices"
	"sync"
)

type inMemory struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

var _ Store = (*inMemory)(nil)

// NewInMemory returns a Store that lives only as long as the process.
func NewInMemory() Store {
	return &inMemory{values: make(map[string][]byte)}
}

func (m *inMemory) Get(ctx context.Context, key string) (bool, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, nil, ErrClosed
	}
	v, ok := m.values[key]
	if !ok {
		return false, nil, nil
	}
	return true, slices.Clone(v), nil
}

func (m *inMemory) Set(ctx context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = slices.Clone(val)
	return nil
}

func (m *inMemory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.values[key]
	delete(m.values, key)
	return ok, nil
}

func (m *inMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.values = nil
	return nil
}
