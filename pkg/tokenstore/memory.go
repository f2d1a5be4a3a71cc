package tokenstore

import (
	"context"
	"sync"
)

// Memory keeps the token for the lifetime of the process.
type Memory struct {
	mu    sync.RWMutex
	token string
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

func (m *Memory) Save(_ context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	return m.Save(context.Background(), "")
}

func (m *Memory) Close() error { return nil }
