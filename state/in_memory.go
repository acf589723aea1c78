package state

import (
	"context"
	"sync"
)

// InMemoryStateBackend keeps checkpoints for the lifetime of the process
type InMemoryStateBackend struct {
	mu     sync.RWMutex
	state  map[string][]byte
	closed bool
}

// NewInMemoryStateBackend creates a new InMemoryStateBackend.
func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{
		state: make(map[string][]byte),
	}
}

func (b *InMemoryStateBackend) Load(_ context.Context, sourceID string) ([]byte, bool, error) {
	if err := validateSourceID(sourceID); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false, ErrNotOpen
	}
	data, ok := b.state[sourceID]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (b *InMemoryStateBackend) Save(_ context.Context, sourceID string, data []byte) error {
	if err := validateSourceID(sourceID); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrNotOpen
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	b.state[sourceID] = stored
	return nil
}

func (b *InMemoryStateBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
