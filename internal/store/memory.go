package store

import (
	"context"
	"sync"

	"github.com/johndosdos/relay/internal/model"
)

// Memory is the in-process log backend. It never fails, which also makes
// it the degradation target when an external backend goes away.
type Memory struct {
	mu       sync.Mutex
	capacity int
	nextID   int64
	messages []model.Message
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		capacity: capacity,
		nextID:   1,
		messages: make([]model.Message, 0, capacity),
	}
}

func (m *Memory) Append(_ context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = m.nextID
	m.nextID++

	m.messages = append(m.messages, msg)
	if len(m.messages) > m.capacity {
		over := len(m.messages) - m.capacity
		copy(m.messages, m.messages[over:])
		m.messages = m.messages[:m.capacity]
	}
	return msg, nil
}

func (m *Memory) ReadRecent(_ context.Context, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > len(m.messages) {
		limit = len(m.messages)
	}
	if limit < 0 {
		limit = 0
	}

	out := make([]model.Message, limit)
	copy(out, m.messages[len(m.messages)-limit:])
	return out, nil
}

func (m *Memory) HealthCheck(_ context.Context) error { return nil }

// ClearCorrupted is a no-op; in-process records cannot rot.
func (m *Memory) ClearCorrupted(_ context.Context) {}
